package assets

import (
	"bytes"
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-faster/errors"
)

// S3Config - параметры S3-совместимого хранилища
type S3Config struct {
	Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	Region    string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
	Prefix    string `yaml:"prefix" env:"S3_PREFIX" env-default:"uploads"`
	PathStyle bool   `yaml:"path_style" env:"S3_PATH_STYLE"`
	PublicURL string `yaml:"public_url" env:"S3_PUBLIC_URL"`
}

// Uploader - часть manager.Uploader, которой пользуется S3Store
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store загружает файлы в bucket
type S3Store struct {
	uploader Uploader
	cfg      S3Config
	maxSize  int64
}

// NewS3Store создает клиента S3. Статические ключи используются, если заданы,
// иначе стандартная цепочка AWS (env, профиль, IMDS).
func NewS3Store(ctx context.Context, cfg S3Config, maxSize int64) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return NewS3StoreWithUploader(manager.NewUploader(client), cfg, maxSize), nil
}

// NewS3StoreWithUploader создает хранилище поверх готового uploader
func NewS3StoreWithUploader(u Uploader, cfg S3Config, maxSize int64) *S3Store {
	return &S3Store{uploader: u, cfg: cfg, maxSize: maxSize}
}

// Upload реализует Store
func (s *S3Store) Upload(ctx context.Context, path string) (Asset, error) {
	f, err := Inspect(path, s.maxSize)
	if err != nil {
		return Asset{}, err
	}

	key := f.Key()
	if p := strings.Trim(s.cfg.Prefix, "/"); p != "" {
		key = p + "/" + key
	}

	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(f.Data),
		ContentType:   aws.String(f.ContentType),
		ContentLength: aws.Int64(f.Size),
	})
	if err != nil {
		return Asset{}, errors.Wrapf(err, "s3 upload %s", key)
	}

	a := f.Asset
	switch {
	case s.cfg.PublicURL != "":
		a.URL = strings.TrimRight(s.cfg.PublicURL, "/") + "/" + key
	case out != nil && out.Location != "":
		a.URL = out.Location
	default:
		a.URL = "s3://" + s.cfg.Bucket + "/" + key
	}
	return a, nil
}
