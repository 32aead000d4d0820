package achievement

// MetricName identifies a derived user metric served by the state accessor.
type MetricName string

const (
	MetricOneUIVersion        MetricName = "oneui_version"
	MetricBalance             MetricName = "balance"
	MetricBankBalance         MetricName = "bank_balance"
	MetricDailyStreak         MetricName = "daily_streak"
	MetricPhonesActive        MetricName = "phones_active"
	MetricPhonesAllTime       MetricName = "phones_all_time"
	MetricPhoneCount          MetricName = "phone_count"
	MetricBusinessCount       MetricName = "business_count"
	MetricBusinessIncomeTotal MetricName = "business_income_total"
	MetricFamilySizeLed       MetricName = "family_size_led"
	MetricFamilySize          MetricName = "family_size"
)

// MetricKind is the shape of a metric value.
type MetricKind int

const (
	KindNumber MetricKind = iota
	KindSet
)

func (k MetricKind) String() string {
	if k == KindSet {
		return "set"
	}
	return "number"
}

// MetricValue is a computed metric: a number or a set of keys.
type MetricValue struct {
	Kind   MetricKind
	Number float64
	Set    []string
}

// NumberValue wraps a scalar metric.
func NumberValue(v float64) MetricValue {
	return MetricValue{Kind: KindNumber, Number: v}
}

// SetValue wraps a set metric; keys are normalized.
func SetValue(keys []string) MetricValue {
	return MetricValue{Kind: KindSet, Set: NormalizeKeys(keys)}
}
