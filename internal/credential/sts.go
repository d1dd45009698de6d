package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"

	"github.com/JohnPreston/credproxy/internal/config"
)

// STSAssumeRoler is the slice of the STS client the fetcher uses
// (injectable for testing).
type STSAssumeRoler interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// STSFetcher exchanges a service's source credentials for an assumed-role
// credential set. The STS client is built once from the definition's source
// credentials on first use.
type STSFetcher struct {
	mu     sync.Mutex
	client STSAssumeRoler
}

// NewSTSFetcher returns a fetcher that builds its STS client lazily.
func NewSTSFetcher() *STSFetcher {
	return &STSFetcher{}
}

// SetClient sets a custom STS client (for testing).
func (f *STSFetcher) SetClient(client STSAssumeRoler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.client = client
}

// Fetch implements Fetcher.
func (f *STSFetcher) Fetch(ctx context.Context, def config.ServiceDefinition) (*Snapshot, error) {
	client, err := f.clientFor(ctx, def.SourceCredentials)
	if err != nil {
		return nil, err
	}

	out, err := client.AssumeRole(ctx, assumeRoleInput(def.AssumedRole))
	if err != nil {
		return nil, fmt.Errorf("assuming role %s: %w", def.AssumedRole.RoleArn, err)
	}
	if out.Credentials == nil {
		return nil, fmt.Errorf("STS returned empty credentials for role %s", def.AssumedRole.RoleArn)
	}

	return &Snapshot{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expiration:      aws.ToTime(out.Credentials.Expiration).UTC(),
		FetchedAt:       time.Now().UTC(),
	}, nil
}

func (f *STSFetcher) clientFor(ctx context.Context, source config.SourceCredentials) (STSAssumeRoler, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if source.Region != "" {
		opts = append(opts, awsconfig.WithRegion(source.Region))
	}
	switch {
	case source.IAMProfile != nil:
		opts = append(opts, awsconfig.WithSharedConfigProfile(source.IAMProfile.ProfileName))
		if source.IAMProfile.ConfigFile != "" {
			opts = append(opts, awsconfig.WithSharedConfigFiles([]string{source.IAMProfile.ConfigFile}))
		}
	case source.IAMKeys != nil:
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				source.IAMKeys.AccessKeyID,
				source.IAMKeys.SecretAccessKey,
				source.IAMKeys.SessionToken,
			),
		))
	}
	// Neither profile nor keys: default provider chain.

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	f.client = sts.NewFromConfig(cfg)
	return f.client, nil
}

// assumeRoleInput maps role parameters onto the STS request.
func assumeRoleInput(role config.AssumedRole) *sts.AssumeRoleInput {
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(role.RoleArn),
		RoleSessionName: aws.String(role.RoleSessionName),
		DurationSeconds: aws.Int32(role.DurationSeconds),
	}
	if role.ExternalID != "" {
		input.ExternalId = aws.String(role.ExternalID)
	}
	if role.Policy != "" {
		input.Policy = aws.String(role.Policy)
	}
	for _, p := range role.PolicyArns {
		input.PolicyArns = append(input.PolicyArns, types.PolicyDescriptorType{
			Arn: aws.String(p.Arn),
		})
	}
	for _, t := range role.Tags {
		input.Tags = append(input.Tags, types.Tag{
			Key:   aws.String(t.Key),
			Value: aws.String(t.Value),
		})
	}
	if len(role.TransitiveTagKeys) > 0 {
		input.TransitiveTagKeys = role.TransitiveTagKeys
	}
	if role.SourceIdentity != "" {
		input.SourceIdentity = aws.String(role.SourceIdentity)
	}
	return input
}
