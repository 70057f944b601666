package s3get

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"

	"babiload/pkg/contract"
)

type fakeS3 struct {
	objects map[string]string
	gotKey  string
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	k := aws.StringValue(in.Bucket) + "/" + aws.StringValue(in.Key)
	f.gotKey = k
	body, ok := f.objects[k]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestParseOrigin(t *testing.T) {
	cases := []struct {
		in, bucket, key string
		ok              bool
	}{
		{"s3://text-datasets/babi_tasks_1-20_v1-2.tar.gz", "text-datasets", "babi_tasks_1-20_v1-2.tar.gz", true},
		{"https://s3.amazonaws.com/text-datasets/babi_tasks_1-20_v1-2.tar.gz", "text-datasets", "babi_tasks_1-20_v1-2.tar.gz", true},
		{"https://s3.us-west-2.amazonaws.com/b/dir/k.tgz", "b", "dir/k.tgz", true},
		{"https://text-datasets.s3.amazonaws.com/a/b.tgz", "text-datasets", "a/b.tgz", true},
		{"s3://bucket-only", "", "", false},
		{"s3://bucket/", "", "", false},
		{"https://example.com/a/b", "", "", false},
		{"ftp://s3.amazonaws.com/a/b", "", "", false},
	}
	for _, c := range cases {
		b, k, err := ParseOrigin(c.in)
		if c.ok {
			if err != nil || b != c.bucket || k != c.key {
				t.Fatalf("%s: got (%q,%q,%v)", c.in, b, k, err)
			}
			continue
		}
		if !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("%s: expect invalid input, got %v", c.in, err)
		}
	}
}

func TestFetch(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{"text-datasets/babi.tgz": "bytes!"}}
	f := NewWithClient(fake)
	var buf bytes.Buffer
	n, err := f.Fetch(context.Background(), "https://s3.amazonaws.com/text-datasets/babi.tgz", &buf)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n != 6 || buf.String() != "bytes!" {
		t.Fatalf("got n=%d body=%q", n, buf.String())
	}
}

func TestFetchMissingObject(t *testing.T) {
	f := NewWithClient(&fakeS3{objects: map[string]string{}})
	var buf bytes.Buffer
	_, err := f.Fetch(context.Background(), "s3://b/missing.tgz", &buf)
	if err == nil || !strings.Contains(err.Error(), "s3://b/missing.tgz") {
		t.Fatalf("expect wrapped error naming object, got %v", err)
	}
}

func TestNewBuildsClient(t *testing.T) {
	f, err := New(&Options{Endpoint: "http://127.0.0.1:9000"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := f.svc.(*s3.S3); !ok {
		t.Fatalf("expect *s3.S3 client")
	}
}
