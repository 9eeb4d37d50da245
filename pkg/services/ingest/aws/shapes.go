package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/de-tools/usage-meter/pkg/models/domain"
)

// EC2API is the slice of the EC2 API the resolver needs; *ec2.Client
// satisfies it.
type EC2API interface {
	DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
}

// ShapeResolver looks up vcpu and memory for instance types via
// DescribeInstanceTypes. Definitions are immutable per type, so responses
// are cached for the resolver's lifetime.
type ShapeResolver struct {
	client EC2API

	mu    sync.Mutex
	cache map[string]domain.InstanceShape
}

func NewShapeResolver(client EC2API) *ShapeResolver {
	return &ShapeResolver{
		client: client,
		cache:  make(map[string]domain.InstanceShape),
	}
}

func (r *ShapeResolver) Resolve(ctx context.Context, instanceType string) (domain.InstanceShape, error) {
	r.mu.Lock()
	shape, ok := r.cache[instanceType]
	r.mu.Unlock()
	if ok {
		return shape, nil
	}

	out, err := r.client.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
	})
	if err != nil {
		return domain.InstanceShape{}, fmt.Errorf("describe instance type %s: %w", instanceType, err)
	}
	if len(out.InstanceTypes) == 0 {
		return domain.InstanceShape{}, fmt.Errorf("instance type %s not found", instanceType)
	}

	info := out.InstanceTypes[0]
	shape = domain.InstanceShape{InstanceType: instanceType}
	if info.VCpuInfo != nil && info.VCpuInfo.DefaultVCpus != nil {
		shape.VCPU = int(*info.VCpuInfo.DefaultVCpus)
	}
	if info.MemoryInfo != nil && info.MemoryInfo.SizeInMiB != nil {
		shape.Memory = float64(*info.MemoryInfo.SizeInMiB) / 1024
	}

	r.mu.Lock()
	r.cache[instanceType] = shape
	r.mu.Unlock()
	return shape, nil
}
