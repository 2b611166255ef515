package dataset

// Local area (MSOA) metric columns of the statistics API.
const (
	LocalAreaType            = "msoa"
	MetricRollingSum         = "newCasesBySpecimenDateRollingSum"
	MetricRollingRate        = "newCasesBySpecimenDateRollingRate"
	MetricRollingChange      = "newCasesBySpecimenDateChange"
	MetricRollingChangePct   = "newCasesBySpecimenDateChangePercentage"
	MetricRollingDirection   = "newCasesBySpecimenDateDirection"
	ColumnLocalAuthorityCode = "LtlaCode"
	ColumnLocalAuthorityName = "LtlaName"
	ColumnRegionName         = "regionName"
)

// LocalAreaMetrics lists the metrics requested for the local area snapshot.
var LocalAreaMetrics = []string{
	MetricRollingSum, MetricRollingRate, MetricRollingChange, MetricRollingChangePct, MetricRollingDirection,
}

// LocalAreaRecord is one middle layer super output area on one date. The
// source suppresses small counts, so every metric may be missing.
type LocalAreaRecord struct {
	Date               string   `json:"date"`
	RegionName         string   `json:"regionName,omitempty"`
	LocalAuthorityCode string   `json:"ltlaCode,omitempty"`
	LocalAuthorityName string   `json:"ltlaName"`
	AreaCode           string   `json:"areaCode"`
	AreaName           string   `json:"areaName"`
	RollingSum         *int64   `json:"rollingSum"`
	RollingRate        *float64 `json:"rollingRate"`
	Change             *int64   `json:"change"`
	ChangePercentage   *float64 `json:"changePercentage"`
	Direction          string   `json:"direction,omitempty"`
}
