package transport

import "strings"

// subjectSubIDFromSuffix extracts the subscription_id segment from a
// subject shaped "<prefix>.<subscription_id>.<tail>", the inverse of
// eventsSubject. The subscription_id is always the subject's second
// segment.
func subjectSubIDFromSuffix(prefix, subject, tail string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return "", false
	}
	rest, ok = strings.CutSuffix(rest, "."+tail)
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

func subscribeWildcard(prefix string) string   { return prefix + ".*.subscribe" }
func unsubscribeWildcard(prefix string) string { return prefix + ".*.unsubscribe" }
func heartbeatWildcard(prefix string) string   { return prefix + ".*.heartbeat" }
func healthSubject(prefix string) string       { return prefix + ".health" }

// eventsSubject is the publish-only subject a subscriber's batches land
// on: "<prefix>.<sub_id>.events".
func eventsSubject(prefix, subID string) string {
	return prefix + "." + subID + ".events"
}
