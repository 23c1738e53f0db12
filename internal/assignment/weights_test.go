package assignment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sum(q map[string]int) int {
	n := 0
	for _, v := range q {
		n += v
	}
	return n
}

func TestUniformWeighting(t *testing.T) {
	tests := []struct {
		name     string
		datasets []string
		total    int
		want     map[string]int
	}{
		{"整除", []string{"a", "b", "c"}, 9, map[string]int{"a": 3, "b": 3, "c": 3}},
		{"余数按名称分配", []string{"a", "b", "c"}, 10, map[string]int{"a": 4, "b": 3, "c": 3}},
		{"名额少于数据集", []string{"a", "b", "c"}, 2, map[string]int{"a": 1, "b": 1}},
		{"无数据集", nil, 5, map[string]int{}},
		{"零名额", []string{"a"}, 0, map[string]int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UniformWeighting{}.Quotas(tt.datasets, tt.total))
		})
	}
}

func TestRatioWeighting(t *testing.T) {
	r := RatioWeighting{Weights: map[string]float64{"a": 3, "b": 1}}
	q := r.Quotas([]string{"a", "b", "c"}, 8)
	assert.Equal(t, map[string]int{"a": 6, "b": 2}, q)

	// 最大余数：7*0.75=5.25, 7*0.25=1.75 → b 获得余下名额
	q = r.Quotas([]string{"a", "b"}, 7)
	assert.Equal(t, map[string]int{"a": 5, "b": 2}, q)

	withDefault := RatioWeighting{Weights: map[string]float64{"a": 2}, Default: 1}
	q = withDefault.Quotas([]string{"a", "b", "c"}, 8)
	assert.Equal(t, 8, sum(q))
	assert.Equal(t, 4, q["a"])

	none := RatioWeighting{Weights: map[string]float64{"x": 1}}
	assert.Empty(t, none.Quotas([]string{"a", "b"}, 5))
}

func TestLargestRemainder_SumExact(t *testing.T) {
	datasets := []string{"a", "b", "c", "d", "e", "f", "g"}
	weights := []float64{0.13, 0.27, 0.05, 0.2, 0.11, 0.19, 0.05}
	for total := 1; total <= 50; total++ {
		q := largestRemainder(datasets, weights, total)
		assert.Equal(t, total, sum(q), "total=%d", total)
	}
}
