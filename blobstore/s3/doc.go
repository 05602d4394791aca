// Package s3 implements blobstore.Remote for Amazon S3 using aws-sdk-go-v2.
// Modification times travel as object user metadata.
package s3
