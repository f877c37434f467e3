package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowed(t *testing.T) {
	roles := []string{"admin", "teacher", "student"}
	for _, sender := range roles {
		for _, receiver := range roles {
			want := !(sender == "student" && receiver == "student")
			t.Run(sender+"->"+receiver, func(t *testing.T) {
				assert.Equal(t, want, IsAllowed(sender, receiver))
			})
		}
	}
}
