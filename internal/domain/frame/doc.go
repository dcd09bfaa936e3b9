// Package frame bounds how many client-facing frames stay live at once.
// Admission is LRU with a fixed capacity of five; the evicted frame always
// receives an explicit unload signal before removal.
package frame
