// Package awsclient загружает AWS конфигурацию и создаёт клиенты сервисов.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
)

// Load загружает конфигурацию из стандартной цепочки (env, shared config, IAM role).
// Пустой region оставляет регион из окружения.
func Load(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// Clients — клиенты AWS, которыми пользуются сервисы.
type Clients struct {
	SFN         *sfn.Client
	Lambda      *lambda.Client
	EventBridge *eventbridge.Client
}

// New создаёт клиенты из общей конфигурации.
func New(cfg aws.Config) *Clients {
	return &Clients{
		SFN:         sfn.NewFromConfig(cfg),
		Lambda:      lambda.NewFromConfig(cfg),
		EventBridge: eventbridge.NewFromConfig(cfg),
	}
}
