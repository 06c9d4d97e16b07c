// utilitário pequeno para formatação consistente de valores numéricos em headers.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

// seconds trunca; quem calcula RetryAfter já arredonda para cima.
func seconds(d time.Duration) int64 { return int64(d / time.Second) }
