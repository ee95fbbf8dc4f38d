package index

import (
	"fmt"
	"testing"
)

// BenchmarkAdd measures per-record insert throughput.
func BenchmarkAdd(b *testing.B) {
	ix := New(fieldsTokenizer{}, nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ix.Add(int64(i), "benchmark title", fmt.Sprintf("operator-%d stage main 1-7 with several terms", i%500))
	}
}

func BenchmarkQuery(b *testing.B) {
	ix := New(fieldsTokenizer{}, nil)
	for i := 0; i < 10000; i++ {
		ix.Add(int64(i), "distributed search", "search engine with distributed indexing")
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ix.Query("search")
	}
}

// BenchmarkQueryParallel measures read throughput while another goroutine
// keeps writing to unrelated tokens.
func BenchmarkQueryParallel(b *testing.B) {
	ix := New(fieldsTokenizer{}, nil)
	for i := 0; i < 10000; i++ {
		ix.Add(int64(i), "distributed search", "search engine with distributed indexing")
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for i := int64(0); ; i++ {
			select {
			case <-stop:
				return
			default:
				ix.Replace(100000+i%1000, []string{"writer old"}, []string{"writer new"})
			}
		}
	}()
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = ix.Query("search")
		}
	})
}

func BenchmarkIntersect(b *testing.B) {
	for _, size := range []int{100, 10000} {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			big := make(map[int64]struct{}, size)
			small := make(map[int64]struct{}, size/10)
			for i := 0; i < size; i++ {
				big[int64(i)] = struct{}{}
				if i%10 == 0 {
					small[int64(i)] = struct{}{}
				}
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = Intersect(big, small, big)
			}
		})
	}
}
