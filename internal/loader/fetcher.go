package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/rendis/sfnsim/pkg/schema"
)

// SFNAPI is the subset of the Step Functions client the fetcher uses.
type SFNAPI interface {
	DescribeStateMachine(ctx context.Context, in *sfn.DescribeStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.DescribeStateMachineOutput, error)
	ListStateMachines(ctx context.Context, in *sfn.ListStateMachinesInput, optFns ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error)
}

// RemoteMachine describes a deployed state machine.
type RemoteMachine struct {
	Name         string    `json:"name"`
	ARN          string    `json:"arn"`
	Type         string    `json:"type"`
	CreationDate time.Time `json:"creation_date"`
}

// SFNFetcher loads definitions of deployed state machines.
type SFNFetcher struct {
	client SFNAPI
}

// NewSFNFetcher builds a fetcher from the default AWS credential chain.
func NewSFNFetcher(ctx context.Context, region string) (*SFNFetcher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SFNFetcher{client: sfn.NewFromConfig(cfg)}, nil
}

// NewSFNFetcherWithClient builds a fetcher on an existing client.
func NewSFNFetcherWithClient(client SFNAPI) *SFNFetcher {
	return &SFNFetcher{client: client}
}

// Fetch downloads and parses the definition of the state machine at arn.
func (f *SFNFetcher) Fetch(ctx context.Context, arn string) (*Definition, error) {
	out, err := f.client.DescribeStateMachine(ctx, &sfn.DescribeStateMachineInput{
		StateMachineArn: aws.String(arn),
	})
	if err != nil {
		return nil, fmt.Errorf("describe state machine %s: %w", arn, err)
	}
	if out.Definition == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "state machine %s has no definition", arn)
	}

	def, err := Parse([]byte(aws.ToString(out.Definition)), FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("parse definition of %s: %w", arn, err)
	}
	def.Source = arn
	if name := aws.ToString(out.Name); name != "" {
		def.Name = name
	}
	return def, nil
}

// List returns every state machine visible to the credentials.
func (f *SFNFetcher) List(ctx context.Context) ([]RemoteMachine, error) {
	var machines []RemoteMachine
	paginator := sfn.NewListStateMachinesPaginator(f.client, &sfn.ListStateMachinesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list state machines: %w", err)
		}
		for _, sm := range page.StateMachines {
			machines = append(machines, RemoteMachine{
				Name:         aws.ToString(sm.Name),
				ARN:          aws.ToString(sm.StateMachineArn),
				Type:         string(sm.Type),
				CreationDate: aws.ToTime(sm.CreationDate),
			})
		}
	}
	return machines, nil
}
