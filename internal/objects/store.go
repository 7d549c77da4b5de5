package objects

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNotFound — объект не найден.
var ErrNotFound = errors.New("object not found")

// Store — минимальный контракт объектного хранилища, нужный финализаторам.
type Store interface {
	// List возвращает ключи всех объектов с префиксом.
	List(ctx context.Context, bucket, prefix string) ([]string, error)

	// Get открывает объект на чтение. Вызывающий закрывает reader.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Put записывает объект.
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error

	// Copy копирует объект внутри bucket.
	Copy(ctx context.Context, bucket, srcKey, dstKey string) error

	// Delete удаляет объекты.
	Delete(ctx context.Context, bucket string, keys []string) error
}

// Location — bucket + префикс.
type Location struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// URI возвращает s3://bucket/prefix.
func (l Location) URI() string {
	return URI(l.Bucket, l.Prefix)
}

// URI собирает s3://bucket/key.
func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + strings.TrimLeft(key, "/")
}

// ParseURI разбирает s3://bucket/key.
func ParseURI(uri string) (Location, bool) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok || rest == "" {
		return Location{}, false
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, false
	}
	return Location{Bucket: bucket, Prefix: prefix}, true
}

// dirPrefix гарантирует "/" в конце непустого префикса.
func dirPrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}
