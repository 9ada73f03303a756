package store

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// S3 implements Backend on AWS S3 storage. Object URLs have the form
// s3://bucket/key, and locations are bucket prefixes in the same form. The
// credentials of the session given at creation are used for all accesses.
type S3 struct {
	svc      *s3.S3
	uploader *s3manager.Uploader
}

var _ Backend = &S3{}

// NewS3 creates a new S3 backend using the given session.
func NewS3(awsSession *session.Session) *S3 {
	return &S3{
		svc:      s3.New(awsSession),
		uploader: s3manager.NewUploader(awsSession),
	}
}

// Upload streams r into location/logicalPath using the multipart uploader,
// so objects larger than a single PUT allows are fine.
func (s *S3) Upload(ctx context.Context, logicalPath string, r io.Reader, location string) (string, Handle, error) {
	bucket, prefix, err := s3split(location)
	if err != nil {
		return "", Handle{}, err
	}
	key := keyFor(prefix, logicalPath)
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		raven.CaptureError(err, map[string]string{"Bucket": bucket, "Key": key})
		return "", Handle{}, errors.Wrap(err, "s3 upload")
	}
	u := "s3://" + bucket + "/" + key
	return u, Handle{URL: u}, nil
}

// SetPermissions records the owner as an object tag.
func (s *S3) SetPermissions(ctx context.Context, h Handle, owner string) error {
	bucket, key, err := s3split(h.URL)
	if err != nil {
		return err
	}
	_, err = s.svc.PutObjectTaggingWithContext(ctx, &s3.PutObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Tagging: &s3.Tagging{
			TagSet: []*s3.Tag{{Key: aws.String("owner"), Value: aws.String(owner)}},
		},
	})
	if err != nil {
		raven.CaptureError(err, map[string]string{"Bucket": bucket, "Key": key})
		return errors.Wrap(err, "s3 set permissions")
	}
	return nil
}

// Move is a server-side copy followed by a delete of the source. Moving an
// object onto itself succeeds without any request.
func (s *S3) Move(ctx context.Context, srcurl, newLocation, newPath, newFilename string) (string, error) {
	sbucket, skey, err := s3split(srcurl)
	if err != nil {
		return "", err
	}
	dbucket, dprefix, err := s3split(newLocation)
	if err != nil {
		return "", err
	}
	dkey := keyFor(dprefix, newPath, newFilename)
	if sbucket == dbucket && skey == dkey {
		return srcurl, nil
	}
	_, err = s.svc.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dbucket),
		Key:        aws.String(dkey),
		CopySource: aws.String(sbucket + "/" + skey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return "", ErrNotFound
		}
		raven.CaptureError(err, map[string]string{"Bucket": sbucket, "Key": skey})
		return "", errors.Wrap(err, "s3 move")
	}
	_, err = s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sbucket),
		Key:    aws.String(skey),
	})
	if err != nil {
		raven.CaptureError(err, map[string]string{"Bucket": sbucket, "Key": skey})
		return "", errors.Wrap(err, "s3 move")
	}
	return "s3://" + dbucket + "/" + dkey, nil
}

// Delete removes the object at url. S3 deletes are idempotent, so a missing
// object is not an error.
func (s *S3) Delete(ctx context.Context, srcurl string) error {
	bucket, key, err := s3split(srcurl)
	if err != nil {
		return err
	}
	_, err = s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		raven.CaptureError(err, map[string]string{"Bucket": bucket, "Key": key})
		return errors.Wrap(err, "s3 delete")
	}
	return nil
}

// Download returns the object's content stream and size.
func (s *S3) Download(ctx context.Context, srcurl string) (io.ReadCloser, int64, error) {
	bucket, key, err := s3split(srcurl)
	if err != nil {
		return nil, 0, err
	}
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, 0, ErrNotFound
		}
		raven.CaptureError(err, map[string]string{"Bucket": bucket, "Key": key})
		return nil, 0, errors.Wrap(err, "s3 download")
	}
	return out.Body, aws.Int64Value(out.ContentLength), nil
}

func s3split(rawurl string) (bucket, key string, err error) {
	scheme, bucket, key, err := splitURL(rawurl)
	if err != nil || scheme != "s3" || bucket == "" {
		return "", "", errors.Errorf("not an s3 url: %s", rawurl)
	}
	return bucket, key, nil
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
