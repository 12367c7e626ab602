package file_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/printforge/pkg/file"
)

type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.HeadObjectOutput), args.Error(1)
}

func (m *MockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

func keyIs(key string) any {
	return mock.MatchedBy(func(in any) bool {
		switch v := in.(type) {
		case *s3.HeadObjectInput:
			return *v.Key == key && *v.Bucket == "images"
		case *s3.DeleteObjectInput:
			return *v.Key == key && *v.Bucket == "images"
		}
		return false
	})
}

func newS3(t *testing.T, client file.S3Client) *file.S3Storage {
	t.Helper()
	storage, err := file.NewS3Storage(context.Background(), file.S3Config{
		Bucket:  "images",
		Region:  "eu-central-1",
		BaseURL: "https://cdn.printforge.test",
	}, file.WithS3Client(client))
	require.NoError(t, err)
	return storage
}

func TestNewS3Storage(t *testing.T) {
	t.Parallel()

	t.Run("requires bucket and region", func(t *testing.T) {
		t.Parallel()
		_, err := file.NewS3Storage(context.Background(), file.S3Config{Bucket: "images"})
		assert.ErrorIs(t, err, file.ErrInvalidConfig)
	})

	t.Run("default url", func(t *testing.T) {
		t.Parallel()
		storage, err := file.NewS3Storage(context.Background(), file.S3Config{
			Bucket: "images",
			Region: "eu-central-1",
		}, file.WithS3Client(&MockS3Client{}))
		require.NoError(t, err)
		assert.Equal(t, "https://images.s3.eu-central-1.amazonaws.com/logos/a.png", storage.URL("logos/a.png"))
	})

	t.Run("endpoint url", func(t *testing.T) {
		t.Parallel()
		storage, err := file.NewS3Storage(context.Background(), file.S3Config{
			Bucket:   "images",
			Region:   "auto",
			Endpoint: "http://localhost:9000/",
		}, file.WithS3Client(&MockS3Client{}))
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9000/images/a.png", storage.URL("/a.png"))
	})
}

func TestS3Storage_Delete(t *testing.T) {
	t.Parallel()

	t.Run("deletes existing object", func(t *testing.T) {
		t.Parallel()
		client := &MockS3Client{}
		client.On("HeadObject", mock.Anything, keyIs("logos/a.png")).Return(&s3.HeadObjectOutput{}, nil)
		client.On("DeleteObject", mock.Anything, keyIs("logos/a.png")).Return(&s3.DeleteObjectOutput{}, nil)

		require.NoError(t, newS3(t, client).Delete(context.Background(), "/logos/a.png"))
		client.AssertExpectations(t)
	})

	t.Run("missing object", func(t *testing.T) {
		t.Parallel()
		client := &MockS3Client{}
		client.On("HeadObject", mock.Anything, keyIs("logos/a.png")).Return(nil, &types.NotFound{})

		err := newS3(t, client).Delete(context.Background(), "logos/a.png")
		assert.ErrorIs(t, err, file.ErrFileNotFound)
		client.AssertNotCalled(t, "DeleteObject", mock.Anything, mock.Anything)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		t.Parallel()
		err := newS3(t, &MockS3Client{}).Delete(context.Background(), "logos/../../etc/passwd")
		assert.ErrorIs(t, err, file.ErrInvalidPath)
	})

	t.Run("classifies api errors", func(t *testing.T) {
		t.Parallel()
		cases := map[string]error{
			"AccessDenied": file.ErrAccessDenied,
			"SlowDown":     file.ErrServiceUnavailable,
			"NoSuchBucket": file.ErrBucketNotFound,
			"NoSuchKey":    file.ErrFileNotFound,
		}
		for code, want := range cases {
			client := &MockS3Client{}
			client.On("HeadObject", mock.Anything, mock.Anything).Return(&s3.HeadObjectOutput{}, nil)
			client.On("DeleteObject", mock.Anything, mock.Anything).
				Return(nil, &smithy.GenericAPIError{Code: code, Message: "boom"})

			err := newS3(t, client).Delete(context.Background(), "a.png")
			assert.ErrorIs(t, err, want, code)
		}
	})

	t.Run("context errors", func(t *testing.T) {
		t.Parallel()
		client := &MockS3Client{}
		client.On("HeadObject", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)

		err := newS3(t, client).Delete(context.Background(), "a.png")
		assert.ErrorIs(t, err, file.ErrOperationTimeout)
	})

	t.Run("unknown errors are wrapped", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		client := &MockS3Client{}
		client.On("HeadObject", mock.Anything, mock.Anything).Return(nil, boom)

		err := newS3(t, client).Delete(context.Background(), "a.png")
		assert.ErrorIs(t, err, boom)
	})
}

func TestS3Storage_Exists(t *testing.T) {
	t.Parallel()

	client := &MockS3Client{}
	client.On("HeadObject", mock.Anything, keyIs("a.png")).Return(&s3.HeadObjectOutput{}, nil)
	client.On("HeadObject", mock.Anything, keyIs("b.png")).Return(nil, &types.NotFound{})
	storage := newS3(t, client)

	assert.True(t, storage.Exists(context.Background(), "a.png"))
	assert.False(t, storage.Exists(context.Background(), "b.png"))
	assert.False(t, storage.Exists(context.Background(), "../a.png"))
}

func TestDeleteURL(t *testing.T) {
	t.Parallel()

	t.Run("maps url to key", func(t *testing.T) {
		t.Parallel()
		client := &MockS3Client{}
		client.On("HeadObject", mock.Anything, keyIs("thumbs/project 1.png")).Return(&s3.HeadObjectOutput{}, nil)
		client.On("DeleteObject", mock.Anything, keyIs("thumbs/project 1.png")).Return(&s3.DeleteObjectOutput{}, nil)

		err := file.DeleteURL(context.Background(), newS3(t, client),
			"https://cdn.printforge.test/thumbs/project%201.png?v=3")
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("foreign url", func(t *testing.T) {
		t.Parallel()
		err := file.DeleteURL(context.Background(), newS3(t, &MockS3Client{}), "https://elsewhere.test/a.png")
		assert.ErrorIs(t, err, file.ErrForeignURL)
	})
}
