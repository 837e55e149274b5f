// Package s3 implements remote.Backend against an S3-compatible object
// store, using the AWS SDK's manager.Uploader for multipart upload of
// large layer files.
package s3

import (
	"context"
	"errors"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/remote"
)

type Backend struct {
	Client   *s3.Client
	Bucket   string
	Prefix   string
	uploader *manager.Uploader
}

func New(client *s3.Client, bucket, prefix string) *Backend {
	return &Backend{
		Client:   client,
		Bucket:   bucket,
		Prefix:   strings.Trim(prefix, "/"),
		uploader: manager.NewUploader(client),
	}
}

var _ remote.Backend = (*Backend)(nil)

func (b *Backend) key(relPath string) string {
	return path.Join(b.Prefix, path.Clean(relPath))
}

func (b *Backend) RemoteObjectID(localRelPath string) (remote.Key, error) {
	clean := path.Clean(localRelPath)
	if strings.HasPrefix(clean, "..") {
		return "", &cmn.ErrCorrupt{What: "local relative path"}
	}
	return remote.Key(b.key(clean)), nil
}

func (b *Backend) ListPrefixes(ctx context.Context, prefix remote.Key) ([]remote.Key, error) {
	var keys []remote.Key
	var token *string
	fullPrefix := path.Join(b.Prefix, string(prefix))
	for {
		out, err := b.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.Bucket),
			Prefix:            aws.String(fullPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, &cmn.ErrTransport{Op: "list_objects_v2", Err: err}
		}
		for _, obj := range out.Contents {
			keys = append(keys, remote.Key(aws.ToString(obj.Key)))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

func (b *Backend) DownloadObject(ctx context.Context, key remote.Key, rng *remote.ByteRange) (*remote.Download, error) {
	in := &s3.GetObjectInput{Bucket: aws.String(b.Bucket), Key: aws.String(string(key))}
	if rng != nil {
		in.Range = aws.String(httpRange(rng))
	}
	out, err := b.Client.GetObject(ctx, in)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, remote.NewNotFound(key)
		}
		return nil, &cmn.ErrTransport{Op: "get_object", Err: err}
	}
	return &remote.Download{Stream: out.Body, Length: aws.ToInt64(out.ContentLength)}, nil
}

func (b *Backend) UploadObject(ctx context.Context, key remote.Key, r io.Reader, _ int64) error {
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(string(key)),
		Body:   r,
	})
	if err != nil {
		return &cmn.ErrTransport{Op: "put_object", Err: err}
	}
	return nil
}

func httpRange(rng *remote.ByteRange) string {
	return "bytes=" + strconv.FormatInt(rng.Start, 10) + "-" + strconv.FormatInt(rng.End, 10)
}
