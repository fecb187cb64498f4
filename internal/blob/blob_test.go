package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	putErr     error
	presignErr error

	bucket  string
	key     string
	body    []byte
	opts    minio.PutObjectOptions
	expires time.Duration
	params  url.Values
}

func (f *fakeClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.bucket, f.key, f.body, f.opts = bucketName, objectName, data, opts
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: int64(len(data))}, nil
}

func (f *fakeClient) PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	if f.presignErr != nil {
		return nil, f.presignErr
	}
	f.expires, f.params = expires, reqParams
	return url.Parse("https://blob.example/" + bucketName + "/" + objectName + "?sig=x")
}

func TestUpload(t *testing.T) {
	client := &fakeClient{}
	u := newMinioUploader(client, "gravebox", time.Hour, zerolog.Nop())

	link, err := u.Upload(context.Background(), "report.pdf", 5, "application/pdf", bytes.NewReader([]byte("hello")))
	require.NoError(t, err)

	assert.Equal(t, "gravebox", client.bucket)
	assert.True(t, strings.HasSuffix(client.key, "/report.pdf"))
	assert.Equal(t, "hello", string(client.body))
	assert.Equal(t, "application/pdf", client.opts.ContentType)
	assert.Equal(t, time.Hour, client.expires)
	assert.Contains(t, client.params.Get("response-content-disposition"), "report.pdf")
	assert.Equal(t, "https://blob.example/gravebox/"+client.key+"?sig=x", link)
}

func TestUploadDefaultsContentType(t *testing.T) {
	client := &fakeClient{}
	u := newMinioUploader(client, "b", time.Hour, zerolog.Nop())

	_, err := u.Upload(context.Background(), "x", 1, "", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", client.opts.ContentType)
}

func TestUploadErrors(t *testing.T) {
	boom := errors.New("boom")

	u := newMinioUploader(&fakeClient{putErr: boom}, "b", time.Hour, zerolog.Nop())
	_, err := u.Upload(context.Background(), "x", 1, "", strings.NewReader("x"))
	assert.ErrorIs(t, err, boom)

	u = newMinioUploader(&fakeClient{presignErr: boom}, "b", time.Hour, zerolog.Nop())
	_, err = u.Upload(context.Background(), "x", 1, "", strings.NewReader("x"))
	assert.ErrorIs(t, err, boom)
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Upload(context.Background(), "x", 1, "", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"photo.jpg":         "photo.jpg",
		"../../etc/passwd":  "passwd",
		`C:\Users\me\a.txt`: "a.txt",
		"":                  "file",
		"bad\nname.txt":     "badname.txt",
		"dir/":              "dir",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeName(in), in)
	}
}

func TestNewMinioUploader(t *testing.T) {
	u, err := NewMinioUploader(Options{
		Endpoint:   "localhost:9000",
		AccessKey:  "key",
		SecretKey:  "secret",
		Bucket:     "gravebox",
		LinkExpiry: time.Hour,
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "gravebox", u.bucket)
}
