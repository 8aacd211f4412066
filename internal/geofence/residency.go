package geofence

// Diff computes entered/exited geofence ids between two residency sets,
// the pattern the position pipeline uses to synthesize enter/exit events
// on each report (§4.3 step 5).
func Diff(previous map[string]struct{}, current []string) (entered, exited []string) {
	currentSet := make(map[string]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
		if _, ok := previous[id]; !ok {
			entered = append(entered, id)
		}
	}
	for id := range previous {
		if _, ok := currentSet[id]; !ok {
			exited = append(exited, id)
		}
	}
	return entered, exited
}
