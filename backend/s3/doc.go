// Package s3 stores persistent cache records as objects in an S3 bucket or
// any S3-compatible store.
//
// Each record is one object, prefix + record name. A PUT replaces the whole
// object, so readers see either the previous record or the new one.
// Locations are written bucket/prefix:
//
//	b, err := s3.New(ctx, s3.Config{Location: "notebooks/team-a"})
package s3
