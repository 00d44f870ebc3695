package utils

import (
	"context"
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestGroupWorkParallel(t *testing.T) {
	orig := ParallelFactor
	defer func() { ParallelFactor = orig }()

	for _, pf := range []int{1, 3, 8} {
		ParallelFactor = pf
		for _, total := range []int{0, 1, 2, 7, 100} {
			seen := make([]int, total)
			var mu sync.Mutex
			var groups int
			sums := map[int]int{}
			err := GroupWorkParallel(
				context.Background(),
				total,
				func(numGroups int) { groups = numGroups },
				func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
					test.That(t, to-from, test.ShouldEqual, groupSize)
					local := 0
					return func(memberNum, workNum int) {
							test.That(t, workNum, test.ShouldEqual, from+memberNum)
							seen[workNum]++
							local += workNum
						}, func() {
							mu.Lock()
							sums[groupNum] = local
							mu.Unlock()
						}
				},
			)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, groups, test.ShouldEqual, NumGroups(total))
			test.That(t, len(sums), test.ShouldEqual, groups)
			for _, c := range seen {
				test.That(t, c, test.ShouldEqual, 1)
			}
			total2 := 0
			for _, s := range sums {
				total2 += s
			}
			test.That(t, total2, test.ShouldEqual, total*(total-1)/2)
		}
	}
}

func TestNumGroups(t *testing.T) {
	orig := ParallelFactor
	defer func() { ParallelFactor = orig }()
	ParallelFactor = 4
	test.That(t, NumGroups(0), test.ShouldEqual, 1)
	test.That(t, NumGroups(2), test.ShouldEqual, 2)
	test.That(t, NumGroups(9), test.ShouldEqual, 4)
}

func TestGroupWorkParallelCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := GroupWorkParallel(ctx, 10, nil, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		called = true
		return nil, nil
	})
	test.That(t, err, test.ShouldEqual, context.Canceled)
	test.That(t, called, test.ShouldBeFalse)
}

func TestGroupWorkParallelPanic(t *testing.T) {
	orig := ParallelFactor
	defer func() { ParallelFactor = orig }()
	ParallelFactor = 4

	done := make([]bool, 12)
	err := GroupWorkParallel(context.Background(), len(done), nil,
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				if workNum == 7 {
					panic("bad work item")
				}
				done[workNum] = true
			}, nil
		})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "panic in work group 2")
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad work item")
	// other groups still run to completion
	test.That(t, done[0], test.ShouldBeTrue)
	test.That(t, done[11], test.ShouldBeTrue)
}
