/*
Package demostore is a bbolt-backed reference implementation of
pkg/store's Adapter interface, standing in for the real host application
a deployment would otherwise embed the sync engine into.

It follows the same JSON-marshal-per-bucket shape warren's BoltDB store
uses for its own domain objects: one bucket holding whole items as JSON
blobs keyed by id, plus small index buckets mapping a note, selection or
transcription id back to the item that owns it so the id-only Delete*
methods in the Adapter interface don't need a linear scan. Upsert*
methods that locate their item by photo id scan all items.
*/
package demostore
