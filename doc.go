// Package objfs provides hierarchical filesystem semantics over a flat,
// key-addressed object store.
//
// Paths such as "/logs/2026/app.log" (optionally prefixed with a
// scheme://authority such as "s3://bucket") are mapped to object keys under
// an optional root prefix. Directories are emulated with zero-length marker
// objects and key prefixes. Writes are staged on local scratch storage and
// uploaded on Close, in one request or as a multipart upload depending on
// size. Renames are server-side copies followed by a delete of the source.
//
// Key features:
//   - Files, directories, existence checks, listing and recursive delete
//   - Atomic uploads: a failed write never leaves a partial object behind
//   - Automatic multipart upload and multipart copy above a size threshold
//   - Multipart sessions are always completed or aborted, even on cancellation
//   - Backends for AWS S3 (s3store), MinIO-compatible servers (miniostore)
//     and memory (memstore)
//
// Example usage:
//
//	st, err := s3store.New(ctx, "my-bucket")
//	if err != nil {
//	    return err
//	}
//	fsys, err := objfs.New(st, objfs.WithRootPrefix("warehouse"))
//	if err != nil {
//	    return err
//	}
//
//	w, err := fsys.Create(ctx, "/tables/t1/part-0000", false)
//	if err != nil {
//	    return err
//	}
//	if _, err := w.Write(data); err != nil {
//	    w.Abort()
//	    return err
//	}
//	if err := w.Commit(ctx); err != nil {
//	    return err
//	}
//
//	err = fsys.Rename(ctx, "/tables/t1", "/tables/t2")
//
// Rename is not atomic. If the copy succeeds but the source cannot be
// deleted, the error matches errors.ErrPartialRename and both objects exist.
package objfs
