package a11y

// Severity weights for the accessibility score. A handful of critical
// findings should visibly drag a site into failing territory while a long
// tail of minor ones should not.
const (
	weightCritical = 10
	weightSerious  = 5
	weightModerate = 2
	weightMinor    = 1
)

// Score computes the 0-100 accessibility score from violation counts per
// severity tier. Deterministic and floor-clamped at 0.
func Score(critical, serious, moderate, minor int) int {
	penalty := critical*weightCritical +
		serious*weightSerious +
		moderate*weightModerate +
		minor*weightMinor
	score := 100 - penalty
	if score < 0 {
		return 0
	}
	return score
}

// ScorePages computes the score across a set of page results.
func ScorePages(pages []PageResult) int {
	var critical, serious, moderate, minor int
	for _, page := range pages {
		for _, issue := range page.Issues {
			switch issue.Severity {
			case SeverityCritical:
				critical++
			case SeveritySerious:
				serious++
			case SeverityModerate:
				moderate++
			default:
				minor++
			}
		}
	}
	return Score(critical, serious, moderate, minor)
}
