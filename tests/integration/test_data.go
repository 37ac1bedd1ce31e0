package integration

import (
	"fmt"
	"sync/atomic"
	"time"
)

var accountSeq atomic.Int64

// TestAccount generates unique account credentials. The password satisfies
// the default policy (length, all four character classes, not common).
func TestAccount(suffix string) (email, password string) {
	n := accountSeq.Add(1)
	email = fmt.Sprintf("walker-%d-%d-%s@example.com", time.Now().Unix(), n, suffix)
	password = "Fetch&Walk2026ok"
	return
}

// WeakPassword fails the character-class policy
const WeakPassword = "alllowercasenoclasses"
