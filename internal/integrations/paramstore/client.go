// Package paramstore reads deployment secrets, currently the Ark API key,
// from AWS Systems Manager Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

var (
	ErrNoClient = errors.New("paramstore: no client configured")
	ErrNoValue  = errors.New("paramstore: parameter has no value")
)

// parameterReader is the part of *ssm.Client used here.
type parameterReader interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretSource returns the decrypted value of a named parameter.
type SecretSource interface {
	Secret(ctx context.Context, name string) (string, error)
}

// Client reads SecureString parameters.
type Client struct {
	reader parameterReader
}

func NewClient(reader parameterReader) (*Client, error) {
	if reader == nil {
		return nil, ErrNoClient
	}
	return &Client{reader: reader}, nil
}

// Load builds a Client from the default AWS credential chain.
func Load(ctx context.Context) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("paramstore: load aws config: %w", err)
	}
	return NewClient(ssm.NewFromConfig(cfg))
}

// Secret fetches name with decryption. Surrounding whitespace is dropped so
// values pasted with a trailing newline still work as keys.
func (c *Client) Secret(ctx context.Context, name string) (string, error) {
	if c == nil || c.reader == nil {
		return "", ErrNoClient
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: parameter name is empty")
	}

	out, err := c.reader.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: read %s: %w", name, err)
	}
	if out == nil || out.Parameter == nil {
		return "", fmt.Errorf("%w: %s", ErrNoValue, name)
	}
	value := strings.TrimSpace(aws.ToString(out.Parameter.Value))
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrNoValue, name)
	}
	return value, nil
}

// ResolveSecret keeps current when it is set and otherwise reads paramName
// from src. With both empty it returns "" and never touches src.
func ResolveSecret(ctx context.Context, src SecretSource, current, paramName string) (string, error) {
	if current != "" || strings.TrimSpace(paramName) == "" {
		return current, nil
	}
	if src == nil {
		return "", fmt.Errorf("%w for %s", ErrNoClient, paramName)
	}
	return src.Secret(ctx, paramName)
}
