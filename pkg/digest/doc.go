/*
The digest package computes file digests with the kernel's crypto API
instead of a userspace hash implementation.

A Hasher owns one AF_ALG socket bound to a hash transform (e.g. sha256).
Each call to Open accepts a fresh transform instance off that socket; the
instance is single-shot and must be closed after one Digest call. Digest
feeds the file to the transform with splice(2) through an ephemeral pipe,
so the file contents never enter user memory.

The algorithm registry starts from a static table of common transforms and
can be extended at startup with whatever hash transforms the running kernel
advertises in /proc/crypto.
*/
package digest
