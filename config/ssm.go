package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// LoadSSM merges every parameter stored under path into config. Parameter names
// are reduced to the part after path, with nested segments joined by "_" and
// upper-cased, so "/blog/prod/resend/api_key" becomes "RESEND_API_KEY".
// Values already present in config (real environment) win over SSM.
func LoadSSM(ctx context.Context, client ssm.GetParametersByPathAPIClient, path string, config map[string]string) error {
	if path == "" {
		return fmt.Errorf("ssm parameter path cannot be empty")
	}
	prefix := strings.TrimSuffix(path, "/") + "/"

	paginator := ssm.NewGetParametersByPathPaginator(client, &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})

	loaded := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to read ssm parameters under %s: %w", path, err)
		}

		for _, param := range page.Parameters {
			name := strings.TrimPrefix(aws.ToString(param.Name), prefix)
			key := strings.ToUpper(strings.ReplaceAll(name, "/", "_"))
			if key == "" {
				continue
			}
			if existing, ok := config[key]; ok && existing != "" {
				continue
			}
			config[key] = aws.ToString(param.Value)
			loaded++
		}
	}

	log.Info().Str("path", path).Int("parameters", loaded).Msg("Loaded configuration from SSM")
	return nil
}
