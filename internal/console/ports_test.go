package console

import (
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePorts(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want []int
	}{
		{name: "single", spec: "3389", want: []int{3389}},
		{name: "list and range", spec: "3389,5000-5003", want: []int{5003, 5002, 5001, 5000, 3389}},
		{name: "duplicates", spec: "5001,5000-5002,5001", want: []int{5002, 5001, 5000}},
		{name: "spaces", spec: " 3390 , 3389 ", want: []int{3390, 3389}},
		{name: "malformed groups skipped", spec: "abc,3389,10-x,y-12", want: []int{3389}},
		{name: "empty range", spec: "5002-5000", want: nil},
		{name: "empty", spec: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePorts(tt.spec)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParsePorts(%q) mismatch (-want +got):\n%s", tt.spec, diff)
			}
		})
	}
}

func TestPortPool_Unique(t *testing.T) {
	p := newPortPool([]int{3, 2, 1}, true)

	a, ok := p.acquire("vm1")
	if !ok {
		t.Fatal("acquire(vm1) failed")
	}
	b, ok := p.acquire("vm2")
	if !ok {
		t.Fatal("acquire(vm2) failed")
	}
	if a == b {
		t.Fatalf("acquire returned port %d twice", a)
	}

	p.release(a)
	p.release(b)

	got := p.freePorts()
	slices.Sort(got)
	if diff := cmp.Diff([]int{1, 2, 3}, got); diff != "" {
		t.Errorf("free ports mismatch (-want +got):\n%s", diff)
	}
}

func TestPortPool_UniqueExhausted(t *testing.T) {
	p := newPortPool([]int{3389}, true)

	if _, ok := p.acquire("vm1"); !ok {
		t.Fatal("acquire(vm1) failed")
	}
	if port, ok := p.acquire("vm2"); ok {
		t.Fatalf("acquire(vm2) = %d, want no port", port)
	}
}

func TestPortPool_Shared(t *testing.T) {
	p := newPortPool([]int{3390, 3389}, false)

	var got []int
	for i := 0; i < 4; i++ {
		port, ok := p.acquire(fmt.Sprintf("vm%d", i))
		if !ok {
			t.Fatalf("acquire(vm%d) failed", i)
		}
		got = append(got, port)
	}
	if diff := cmp.Diff([]int{3389, 3390, 3389, 3390}, got); diff != "" {
		t.Errorf("shared ports mismatch (-want +got):\n%s", diff)
	}

	p.release(3389)
	if free := p.freePorts(); len(free) != 0 {
		t.Errorf("shared pool took back a port: %v", free)
	}
}

func TestPortPool_SharedEmpty(t *testing.T) {
	p := newPortPool(nil, false)
	if port, ok := p.acquire("vm1"); ok {
		t.Fatalf("acquire() = %d, want no port", port)
	}
}

func TestPortPool_ReleaseTwice(t *testing.T) {
	p := newPortPool([]int{2, 1}, true)

	port, _ := p.acquire("vm1")
	p.release(port)
	p.release(port)
	p.release(0)

	got := p.freePorts()
	slices.Sort(got)
	if diff := cmp.Diff([]int{1, 2}, got); diff != "" {
		t.Errorf("free ports mismatch (-want +got):\n%s", diff)
	}
}

func TestPortPool_Forget(t *testing.T) {
	p := newPortPool([]int{3389}, true)
	port, _ := p.acquire("vm1")

	if got, ok := p.lookup("vm1"); !ok || got != port {
		t.Errorf("lookup(vm1) = %d, %v, want %d, true", got, ok, port)
	}
	if got, ok := p.forget("vm1"); !ok || got != port {
		t.Errorf("forget(vm1) = %d, %v, want %d, true", got, ok, port)
	}
	if _, ok := p.lookup("vm1"); ok {
		t.Errorf("lookup(vm1) found a forgotten port")
	}
}

func TestPortPool_Concurrent(t *testing.T) {
	const n = 64
	ports := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ports = append(ports, 6000+i)
	}
	p := newPortPool(ports, true)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			port, ok := p.acquire(fmt.Sprintf("vm%d", i))
			if !ok {
				t.Errorf("acquire(vm%d) failed", i)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[port] {
				t.Errorf("port %d handed out twice", port)
			}
			seen[port] = true
		}(i)
	}
	wg.Wait()

	if free := p.freePorts(); len(free) != 0 {
		t.Fatalf("free ports after allocating all = %v, want none", free)
	}

	for port := range seen {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			p.release(port)
		}(port)
	}
	wg.Wait()

	got := p.freePorts()
	slices.Sort(got)
	if diff := cmp.Diff(ports, got); diff != "" {
		t.Errorf("free ports after release mismatch (-want +got):\n%s", diff)
	}
}
