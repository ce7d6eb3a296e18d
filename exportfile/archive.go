package exportfile

// Archiving export copies to an S3 bucket.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// PutObjectAPI is the one S3 operation the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver puts export copies into an S3 bucket under an optional key prefix.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Archiver returns an archiver that writes to bucket through client.
func NewS3Archiver(client PutObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// NewDefaultS3Archiver builds an archiver using the default AWS credential
// chain and region resolution.
func NewDefaultS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load AWS configuration: %w", err)
	}
	return NewS3Archiver(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// Key returns the object key an export copy is archived under.
func (a *S3Archiver) Key(copyPath string) string {
	name := filepath.Base(copyPath)
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Archive uploads the export copy at copyPath and returns its object key.
func (a *S3Archiver) Archive(ctx context.Context, fs billy.Filesystem, copyPath string) (string, error) {

	data, err := util.ReadFile(fs, copyPath)
	if err != nil {
		return "", fmt.Errorf("could not read export copy for archive: %w", err)
	}

	key := a.Key(copyPath)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimetype.Detect(data).String()),
	})
	if err != nil {

		// Surface the S3 error code when there is one, it says far more than the wrapped message
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("could not archive export copy to s3://%s/%s (%s): %w", a.bucket, key, apiErr.ErrorCode(), err)
		}
		return "", fmt.Errorf("could not archive export copy to s3://%s/%s: %w", a.bucket, key, err)
	}

	return key, nil
}
