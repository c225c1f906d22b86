package sensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVocIndexBlackoutThenTypical(t *testing.T) {
	v := NewVocIndex()
	for i := 0; i < v.Blackout; i++ {
		assert.Equal(t, 0, v.Process(30000), "sample %d", i)
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, 100, v.Process(30000))
	}
}

func TestVocIndexDirection(t *testing.T) {
	v := NewVocIndex()
	for i := 0; i < 50; i++ {
		v.Process(30000)
	}
	// more VOC lowers the raw signal
	high := v.Process(29800)
	assert.Greater(t, high, 100)
	assert.LessOrEqual(t, high, 500)

	v.Reset()
	for i := 0; i < 50; i++ {
		v.Process(30000)
	}
	low := v.Process(30200)
	assert.Less(t, low, 100)
	assert.GreaterOrEqual(t, low, 1)
}

func TestVocIndexZeroSample(t *testing.T) {
	v := NewVocIndex()
	assert.Equal(t, 0, v.Process(0))
}
