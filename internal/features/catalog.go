package features

// Kind is how a submitted value is parsed.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
)

func (k Kind) String() string {
	if k == KindFloat {
		return "float"
	}
	return "int"
}

// definition is what the service knows about a column beyond its name.
type definition struct {
	kind     Kind
	label    string
	min, max *float64
	// indicator columns are 0/1 one-hot outputs of the export step.
	indicator bool
}

func bound(v float64) *float64 { return &v }

// DefaultColumns is the training column order of the shipped model.
var DefaultColumns = []string{
	"Sex",
	"GeneralHealth",
	"SleepHours",
	"RemovedTeeth",
	"HadAngina",
	"HadStroke",
	"HadAsthma",
	"HadSkinCancer",
	"HadCOPD",
	"HadDepressiveDisorder",
	"HadArthritis",
	"DifficultyWalking",
	"ChestScan",
	"AgeCategory",
	"BMI",
	"AlcoholDrinkers",
	"HIVTesting",
	"FluVaxLast12",
	"PneumoVaxEver",
	"CovidPos",
	"HadDiabetes_No",
	"SmokerStatus_Former_smoker",
	"TetanusLast10Tdap_No_did_not_receive_any_tetanus_shot_in_the_past_10_years",
	"TetanusLast10Tdap_Yes_received_Tdap",
}

var catalog = map[string]definition{
	"Sex":                   {kind: KindInt, label: "Sex"},
	"GeneralHealth":         {kind: KindInt, label: "General health"},
	"SleepHours":            {kind: KindInt, label: "Average hours of sleep per night", min: bound(0), max: bound(24)},
	"RemovedTeeth":          {kind: KindInt, label: "Permanent teeth removed"},
	"HadAngina":             {kind: KindInt, label: "Ever had angina or coronary heart disease"},
	"HadStroke":             {kind: KindInt, label: "Ever had a stroke"},
	"HadAsthma":             {kind: KindInt, label: "Ever had asthma"},
	"HadSkinCancer":         {kind: KindInt, label: "Ever had skin cancer"},
	"HadCOPD":               {kind: KindInt, label: "Ever had COPD, emphysema or chronic bronchitis"},
	"HadDepressiveDisorder": {kind: KindInt, label: "Ever had a depressive disorder"},
	"HadArthritis":          {kind: KindInt, label: "Ever had arthritis"},
	"DifficultyWalking":     {kind: KindInt, label: "Serious difficulty walking or climbing stairs"},
	"ChestScan":             {kind: KindInt, label: "Ever had a CT scan of the chest"},
	"AgeCategory":           {kind: KindInt, label: "Age category"},
	"BMI":                   {kind: KindFloat, label: "Body mass index", min: bound(0), max: bound(150)},
	"AlcoholDrinkers":       {kind: KindInt, label: "Had an alcoholic drink in the past 30 days"},
	"HIVTesting":            {kind: KindInt, label: "Ever tested for HIV"},
	"FluVaxLast12":          {kind: KindInt, label: "Flu vaccine in the past 12 months"},
	"PneumoVaxEver":         {kind: KindInt, label: "Ever had a pneumonia vaccine"},
	"CovidPos":              {kind: KindInt, label: "Ever tested positive for COVID-19"},
	"HadDiabetes_No":        {kind: KindInt, label: "Never told they had diabetes", indicator: true},
	"SmokerStatus_Former_smoker": {
		kind: KindInt, label: "Former smoker", indicator: true,
	},
	"TetanusLast10Tdap_No_did_not_receive_any_tetanus_shot_in_the_past_10_years": {
		kind: KindInt, label: "No tetanus shot in the past 10 years", indicator: true,
	},
	"TetanusLast10Tdap_Yes_received_Tdap": {
		kind: KindInt, label: "Received Tdap in the past 10 years", indicator: true,
	},
}

var indicatorClasses = []string{"No", "Yes"}
