package batchdeployer

import (
	"context"
	"fmt"
)

// DefaultKeyPrefix prefix of partition keys when none is given
const DefaultKeyPrefix = "partition"

// PartitionDescriptor identifies one unit of work: one input resource
type PartitionDescriptor struct {
	Key             string
	ResourceLocator string
}

// Partitions partition descriptors in the order they were planned
type Partitions []PartitionDescriptor

// Keys partition keys in planned order
func (p Partitions) Keys() []string {
	keys := make([]string, 0, len(p))
	for _, d := range p {
		keys = append(keys, d.Key)
	}
	return keys
}

// ByKey index descriptors by partition key
func (p Partitions) ByKey() map[string]PartitionDescriptor {
	m := make(map[string]PartitionDescriptor, len(p))
	for _, d := range p {
		m[d.Key] = d
	}
	return m
}

func (p Partitions) validate() BatchError {
	if len(p) == 0 {
		return NewBatchError(ErrCodeConfiguration, "no partitions to execute")
	}
	seen := make(map[string]bool, len(p))
	for _, d := range p {
		if d.Key == "" {
			return NewBatchError(ErrCodeConfiguration, "partition for resource:%v has an empty key", d.ResourceLocator)
		}
		if seen[d.Key] {
			return NewBatchError(ErrCodeConfiguration, "duplicate partition key:%v", d.Key)
		}
		seen[d.Key] = true
	}
	return nil
}

// Partitioner plans the partitions of a step
type Partitioner interface {
	Partition(ctx context.Context) (Partitions, BatchError)
}

// PartitionResources assign one partition per resource, keyed keyPrefix+index in input order
func PartitionResources(resources []string, keyPrefix string) (Partitions, BatchError) {
	if len(resources) == 0 {
		return nil, NewBatchError(ErrCodeConfiguration, "no resources to partition")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	partitions := make(Partitions, 0, len(resources))
	for i, resource := range resources {
		partitions = append(partitions, PartitionDescriptor{
			Key:             fmt.Sprintf("%s%d", keyPrefix, i),
			ResourceLocator: resource,
		})
	}
	return partitions, nil
}

// MultiResourcePartitioner one partition per resource locator
type MultiResourcePartitioner struct {
	Resources []string
	KeyPrefix string
}

func (p *MultiResourcePartitioner) Partition(ctx context.Context) (Partitions, BatchError) {
	partitions, err := PartitionResources(p.Resources, p.KeyPrefix)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "resources partitioned, resources:%v, partitions:%v", len(p.Resources), len(partitions))
	return partitions, nil
}
