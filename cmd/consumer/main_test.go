package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKafkaSinkWriterForCachesPerTopic(t *testing.T) {
	sink := newKafkaSink([]string{"localhost:9092"})

	w1 := sink.writerFor("orders")
	w2 := sink.writerFor("orders")
	w3 := sink.writerFor("shipments")

	assert.Same(t, w1, w2)
	assert.NotSame(t, w1, w3)
	assert.Equal(t, "orders", w1.Topic)
}
