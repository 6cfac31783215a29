package pointers

func Float64(v float64) *float64 { return &v }
func Int64(v int64) *int64       { return &v }
func String(v string) *string    { return &v }
