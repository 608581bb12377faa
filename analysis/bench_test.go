// go test -bench=. -benchmem ./analysis
package analysis

import (
	"context"
	"fmt"
	"testing"

	"github.com/TFMV/dijet/config"
)

const (
	smallSize  = 1000
	mediumSize = 10000
	largeSize  = 100000
	batchSize  = 10000
)

func BenchmarkRun(b *testing.B) {
	for _, size := range []int{smallSize, mediumSize, largeSize} {
		for _, workers := range []int{1, 4} {
			b.Run(fmt.Sprintf("size_%d/workers_%d", size, workers), func(b *testing.B) {
				src, err := Generate(SampleOptions{Events: size, BatchRows: batchSize, Seed: 3})
				if err != nil {
					b.Fatal(err)
				}
				defer src.Release()

				cfg := config.Default()
				cfg.Corrections.Enabled = false
				cfg.Workers = workers
				a, err := New(cfg)
				if err != nil {
					b.Fatal(err)
				}

				b.ResetTimer()
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := a.Run(context.Background(), src); err != nil {
						b.Fatal(err)
					}
				}
				b.ReportMetric(float64(size)*float64(b.N)/b.Elapsed().Seconds(), "events/s")
			})
		}
	}
}

func BenchmarkGenerate(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		src, err := Generate(SampleOptions{Events: mediumSize, BatchRows: batchSize, Seed: uint64(i)})
		if err != nil {
			b.Fatal(err)
		}
		src.Release()
	}
}
