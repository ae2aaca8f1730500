package classifier

import (
	"math"
	"regexp"

	"basegraph.app/intake/internal/model"
)

const (
	taskBase           = 0.5
	taskPerMatch       = 0.15
	taskCap            = 0.95
	taskNoneConfidence = 0.3
)

var taskCategories = []category{
	{name: string(model.TaskTypeResearch), patterns: []*regexp.Regexp{
		english(`research`, `read`, `articles?`, `papers?`, `study`, `learn about`, `look into`, `investigate`),
		hebrew("לחקור", "מחקר", "לקרוא", "מאמר", "ללמוד על", "לבדוק"),
	}},
	{name: string(model.TaskTypeCommunication), patterns: []*regexp.Regexp{
		english(`send`, `email`, `call`, `reply`, `message`, `follow up`, `respond`),
		hebrew("לשלוח", "להתקשר", "לענות", "מייל", "הודעה", "לעדכן"),
	}},
	{name: string(model.TaskTypeDevelopment), patterns: []*regexp.Regexp{
		english(`code`, `bugs?`, `deploy`, `implement`, `refactor`, `api`, `debug`),
		hebrew("קוד", "באג", "לפתח", "דיפלוי", "לתקן"),
	}},
	{name: string(model.TaskTypePlanning), patterns: []*regexp.Regexp{
		english(`plan`, `schedule`, `organize`, `prioritize`, `calendar`),
		hebrew("לתכנן", "לתזמן", "תכנון", "לוח זמנים", "יומן"),
	}},
	{name: string(model.TaskTypeAdmin), patterns: []*regexp.Regexp{
		english(`pay`, `renew`, `forms?`, `paperwork`, `register`, `insurance`),
		hebrew("לשלם", "לחדש", "טופס", "ביטוח", "להירשם"),
	}},
}

// TaskClassifier labels the kind of work text describes.
type TaskClassifier struct {
	categories []category
}

func NewTaskClassifier() *TaskClassifier {
	return &TaskClassifier{categories: taskCategories}
}

func (c *TaskClassifier) Classify(text string) model.TaskClassification {
	matches := matchCategories(text, c.categories)
	name := strongest(matches)
	if name == "" {
		return model.TaskClassification{
			TaskType:   model.TaskTypeGeneral,
			Confidence: taskNoneConfidence,
			Signals:    []string{},
		}
	}

	var signals []string
	for _, cm := range matches {
		if cm.name == name {
			signals = cm.matches
		}
	}

	return model.TaskClassification{
		TaskType:   model.TaskType(name),
		Confidence: round2(math.Min(taskBase+taskPerMatch*float64(len(signals)-1), taskCap)),
		Signals:    signals,
	}
}
