package state

// Storage keys for the lending records. Position and activity keys keep
// their raw prefix so EachPosition can scan them in order; the singleton
// records live under fixed keys.
var (
	positionPrefix = []byte("lending/position/")
	activityPrefix = []byte("lending/activity/")
	rateStateKey   = []byte("lending/rates")
	reservesKey    = []byte("lending/reserves")
	paramsKey      = []byte("lending/params")
)

func positionKey(addr []byte) []byte {
	buf := make([]byte, len(positionPrefix)+len(addr))
	copy(buf, positionPrefix)
	copy(buf[len(positionPrefix):], addr)
	return buf
}

func activityKey(addr []byte) []byte {
	buf := make([]byte, len(activityPrefix)+len(addr))
	copy(buf, activityPrefix)
	copy(buf[len(activityPrefix):], addr)
	return buf
}
