// Package strobj implements the string objects manipulated by the bytecode
// interpreter.
//
// A string object is a length-prefixed byte buffer. Objects live in an Arena
// and are referred to by Handle values. Each handle carries the generation of
// the arena slot it was issued for, so a handle that outlives its object is
// detected on use instead of silently reading freed or reused memory.
//
// # Ownership
//
// Objects are reference counted. Alloc, FromBytes, Concat and ReadLine
// return a handle holding one reference. Retain adds a reference for a
// second owner (a value loaded onto the operand stack while still held by a
// variable slot, for example) and Release drops one. The object is freed when
// its last reference is released; any later use of a handle to it fails with
// ErrStaleHandle.
//
// Live reports the number of objects that have not been freed, which lets
// callers verify that a run released everything it allocated.
package strobj
