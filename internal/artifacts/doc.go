// Package artifacts stores the files stages hand to each other and publish.
//
// Store is keyed by slash-separated names such as "<run_id>/processed_000001.png".
// The local backend writes under a root directory with atomic temp+rename
// writes; the minio backend targets any S3-compatible bucket. Missing keys
// fail with services.ErrNotFound so stage activities can classify them.
package artifacts
