package assignment

import (
	"math"
	"sort"
)

// WeightingStrategy 将候选池名额分配到各数据集
type WeightingStrategy interface {
	Quotas(datasets []string, total int) map[string]int
}

// UniformWeighting 在可领取的数据集之间平均分配
type UniformWeighting struct{}

func (UniformWeighting) Quotas(datasets []string, total int) map[string]int {
	weights := make([]float64, len(datasets))
	for i := range weights {
		weights[i] = 1
	}
	return largestRemainder(datasets, weights, total)
}

// RatioWeighting 按显式权重分配；未出现在 Weights 中的数据集使用 Default
type RatioWeighting struct {
	Weights map[string]float64
	Default float64
}

func (r RatioWeighting) Quotas(datasets []string, total int) map[string]int {
	weights := make([]float64, len(datasets))
	for i, ds := range datasets {
		w, ok := r.Weights[ds]
		if !ok {
			w = r.Default
		}
		weights[i] = math.Max(w, 0)
	}
	return largestRemainder(datasets, weights, total)
}

// largestRemainder 最大余数法取整，名额总和恰为 total（全部权重为 0 时为空）
func largestRemainder(datasets []string, weights []float64, total int) map[string]int {
	quotas := make(map[string]int, len(datasets))
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if total <= 0 || sum == 0 {
		return quotas
	}

	type rem struct {
		ds   string
		frac float64
	}
	rems := make([]rem, 0, len(datasets))
	assigned := 0
	for i, ds := range datasets {
		if weights[i] == 0 {
			continue
		}
		exact := float64(total) * weights[i] / sum
		n := int(math.Floor(exact))
		quotas[ds] = n
		assigned += n
		rems = append(rems, rem{ds: ds, frac: exact - float64(n)})
	}
	sort.SliceStable(rems, func(i, j int) bool {
		if rems[i].frac != rems[j].frac {
			return rems[i].frac > rems[j].frac
		}
		return rems[i].ds < rems[j].ds
	})
	for i := 0; assigned < total && len(rems) > 0; i = (i + 1) % len(rems) {
		quotas[rems[i].ds]++
		assigned++
	}
	for ds, n := range quotas {
		if n == 0 {
			delete(quotas, ds)
		}
	}
	return quotas
}
