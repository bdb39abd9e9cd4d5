// Package storage is the S3 file store for order documents, report templates
// and rendered reports.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
)

// FileKind is the role of an uploaded order document.
type FileKind string

const (
	KindOIT       FileKind = "oit"
	KindQuotation FileKind = "quotation"
	KindLab       FileKind = "lab"
	KindFieldForm FileKind = "field_form"
	KindReport    FileKind = "reports"
)

// ParseFileKind validates a kind from a request or key segment.
func ParseFileKind(s string) (FileKind, bool) {
	switch k := FileKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindOIT, KindQuotation, KindLab, KindFieldForm:
		return k, true
	}
	return "", false
}

// Bucket defines the object operations the services use. Keys are relative to
// the configured bucket.
type Bucket interface {
	PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key, contentType string, body []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// S3API is the subset of the S3 client we use.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// PresignAPI is the subset of the S3 presign client we use.
type PresignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Bucket implements Bucket on one S3 bucket.
type S3Bucket struct {
	client  S3API
	presign PresignAPI
	bucket  string
}

// NewS3Bucket creates a Bucket from an S3 service client.
func NewS3Bucket(client *s3.Client, bucket string) *S3Bucket {
	return &S3Bucket{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}
}

func (b *S3Bucket) PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}
	resp, err := b.presign.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", eris.Wrapf(err, "presign put %s", key)
	}
	return resp.URL, nil
}

func (b *S3Bucket) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}
	resp, err := b.presign.PresignGetObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", eris.Wrapf(err, "presign get %s", key)
	}
	return resp.URL, nil
}

func (b *S3Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "get object %s", key)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "read object %s", key)
	}
	return data, nil
}

func (b *S3Bucket) Put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        bytes.NewReader(body),
	})
	if err != nil {
		return eris.Wrapf(err, "put object %s", key)
	}
	return nil
}

// List returns every key under prefix, following continuation tokens.
func (b *S3Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys  []string
		token *string
	)
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "list %s", prefix)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

// UploadKey is where an order document of the given kind is stored.
func UploadKey(orderID string, kind FileKind, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	return fmt.Sprintf("orders/%s/%s/%s", orderID, kind, name)
}

// ReportKey is where a rendered report is stored.
func ReportKey(orderID, filename string) string {
	return fmt.Sprintf("orders/%s/%s/%s", orderID, KindReport, path.Base(filename))
}

// ParseUploadKey splits orders/{id}/{kind}/{file} into its parts. Report keys
// and anything outside the layout return ok=false.
func ParseUploadKey(key string) (orderID string, kind FileKind, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) < 4 || parts[0] != "orders" || parts[1] == "" || parts[len(parts)-1] == "" {
		return "", "", false
	}
	kind, ok = ParseFileKind(parts[2])
	if !ok {
		return "", "", false
	}
	return parts[1], kind, true
}

// ContentType guesses a content type from a file name.
func ContentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	case ".html":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
