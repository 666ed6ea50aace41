// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs uploads finished feedback archives to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Uploader sends a local archive somewhere durable and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

type Client struct {
	storageClient *storage.Client
	BucketName    string
	Prefix        string
}

// NewClient creates a GCS client for bucketName. When saKeyPath is empty
// Application Default Credentials are used.
func NewClient(ctx context.Context, bucketName, prefix, saKeyPath string) (*Client, error) {
	if bucketName == "" {
		return nil, errors.New("upload bucket is not configured")
	}

	var opts []option.ClientOption
	if saKeyPath != "" {
		info, err := os.Stat(saKeyPath)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", saKeyPath)
		}
		if err == nil && info.IsDir() {
			return nil, fmt.Errorf("service account key path %s is a directory", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Client{
		storageClient: storageClient,
		BucketName:    bucketName,
		Prefix:        prefix,
	}, nil
}

// ObjectName returns the object key for a local archive: the configured
// prefix joined with the file's base name.
func (c *Client) ObjectName(localPath string) string {
	name := filepath.Base(localPath)
	prefix := strings.Trim(c.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Upload copies localPath to gs://<bucket>/<prefix>/<name>.
func (c *Client) Upload(ctx context.Context, localPath string) (string, error) {
	objectName := c.ObjectName(localPath)
	if err := c.UploadFile(ctx, localPath, objectName); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", c.BucketName, objectName), nil
}

func (c *Client) UploadFile(ctx context.Context, localPath, gcsPath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer localFile.Close()

	if c.storageClient == nil {
		return errors.New("GCS client is not initialized")
	}

	obj := c.storageClient.Bucket(c.BucketName).Object(gcsPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/zip"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, gcsPath, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", gcsPath, err)
	}
	return nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	if c.storageClient == nil {
		return nil
	}
	return c.storageClient.Close()
}

var _ Uploader = (*Client)(nil)
