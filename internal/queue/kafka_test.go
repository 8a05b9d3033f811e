package queue

import (
	"hash/crc32"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestPartitionForKey(t *testing.T) {
	key := "u1-New Delhi"
	first := PartitionForKey(key, 6)
	if first < 0 || first >= 6 {
		t.Fatalf("Partition %d out of range", first)
	}
	for i := 0; i < 10; i++ {
		if got := PartitionForKey(key, 6); got != first {
			t.Errorf("Partition not stable: %d vs %d", got, first)
		}
	}
	if got := PartitionForKey(key, 0); got != 0 {
		t.Errorf("Expected 0 for no partitions, got %d", got)
	}
}

func TestPartitionForKey_MatchesProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "aqi.alerts")
	defer p.Close()

	partitions := []int{0, 1, 2, 3, 4, 5}
	keys := []string{"u1-Paris", "u1-New Delhi", "u2-Paris", "u3-Beijing", "u4-Los Angeles", ""}

	for _, key := range keys {
		want := p.writer.Balancer.Balance(kafka.Message{Key: []byte(key)}, partitions...)
		if got := PartitionForKey(key, len(partitions)); got != want {
			t.Errorf("Key %q: PartitionForKey=%d, producer=%d", key, got, want)
		}
		if crc := int(crc32.ChecksumIEEE([]byte(key)) % uint32(len(partitions))); crc != want {
			t.Errorf("Key %q: expected crc32 partition %d, producer picked %d", key, crc, want)
		}
	}
}

func TestCreateTopic_NoBrokers(t *testing.T) {
	if err := CreateTopic(nil, "aqi.alerts", 3, 1); err == nil {
		t.Error("Expected error without brokers")
	}
}
