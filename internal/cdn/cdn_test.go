package cdn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestShardKnownValues(t *testing.T) {
	tests := []struct {
		hash string
		want int
	}{
		// 31 ^ 'a'(97) = 126 -> 126 % 8 = 6
		{"a", 6},
		// 31 ^ 'a' ^ 'b'(98) = 28 -> 4
		{"ab", 4},
		// empty hash leaves the seed: 31 % 8 = 7
		{"", 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Shard(tt.hash), "hash %q", tt.hash)
	}
}

func TestHashURL(t *testing.T) {
	assert.Equal(t, "https://t6.rbxcdn.com/a", HashURL("a"))
	r := Resolver{Template: "http://127.0.0.1:8080/%s%d/%s", ShardType: "c"}
	assert.Equal(t, "http://127.0.0.1:8080/c4/ab", r.URL("ab"))
}

func TestShardFoldsUTF16Units(t *testing.T) {
	// U+1F600 encodes as the surrogate pair D83D DE00.
	want := (Seed ^ 0xD83D ^ 0xDE00) % ShardCount
	assert.Equal(t, want, Shard("\U0001F600"))
}

func TestHashURLDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		hash := rapid.StringMatching(`[0-9a-f]{1,40}`).Draw(rt, "hash")
		first := HashURL(hash)
		if first != HashURL(hash) {
			rt.Fatalf("non-deterministic url for %q", hash)
		}
		s := Shard(hash)
		if s < 0 || s >= ShardCount {
			rt.Fatalf("shard %d out of range", s)
		}
	})
}

func TestShardOrderIndependentOfFoldDirection(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		hash := rapid.StringMatching(`[0-9a-f]{32}`).Draw(rt, "hash")
		reversed := []byte(hash)
		for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
			reversed[i], reversed[j] = reversed[j], reversed[i]
		}
		if Shard(hash) != Shard(string(reversed)) {
			rt.Fatalf("xor fold must be order independent")
		}
	})
}
