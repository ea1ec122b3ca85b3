/*
Package lock serializes engine calls per process instance.

A Manager keeps a reference-counted mutex per instance id and, when configured
with a ports.DistributedLocker, also holds a cross-process lock for the
duration of the call. Calls touching several instances acquire their locks in
sorted id order so that concurrent broadcasts cannot deadlock.
*/
package lock
