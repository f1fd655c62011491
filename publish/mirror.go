package publish

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"oip.network/indexd/record"
)

// S3Mirror is the external-mirror destination (spec §4.H "Multi-destination
// publish"): a durable off-chain copy of a published record, keyed by DID.
// Grounded on storage/s3aws.go's HetznerUploadFile (MD5-tagged upload via a
// manager.Uploader against an S3-compatible endpoint), adapted from a
// local-file upload to an in-memory record payload, since publish never
// touches the filesystem.
type S3Mirror struct {
	Uploader *manager.Uploader
	Bucket   string
}

// NewS3Mirror builds an S3Mirror against any S3-compatible endpoint
// (Hetzner Object Storage, MinIO, AWS S3) via the supplied pre-configured
// client, following s3aws.go's "pass a configured *s3.Client/uploader in"
// idiom rather than constructing credentials here.
func NewS3Mirror(client *s3.Client, bucket string) *S3Mirror {
	return &S3Mirror{Uploader: manager.NewUploader(client), Bucket: bucket}
}

func (m *S3Mirror) Mirror(ctx context.Context, rec *record.Record) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("record does not serialize for mirror upload: %w", err)
	}
	sum := md5.Sum(payload)
	objectKey := fmt.Sprintf("records/%s/%d.json", sanitizeDID(rec.OIP.Did), time.Now().UnixNano())

	_, err = m.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.Bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"md5": hex.EncodeToString(sum[:])},
	})
	if err != nil {
		return "", fmt.Errorf("failed to mirror %s to %s: %w", rec.OIP.Did, objectKey, err)
	}
	return objectKey, nil
}

func sanitizeDID(did string) string {
	out := make([]byte, len(did))
	for i := 0; i < len(did); i++ {
		c := did[i]
		if c == ':' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
