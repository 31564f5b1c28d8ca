// Package pipeline 提供训练数据清洗
package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"diapredict/ml"
)

// Record 一条带标签的训练样本，特征顺序与 ml.FeatureNames 一致
type Record struct {
	Row      int
	Features []float64
	Label    int
}

func (r *Record) clone() *Record {
	return &Record{
		Row:      r.Row,
		Features: append([]float64(nil), r.Features...),
		Label:    r.Label,
	}
}

// CleaningRule 清洗规则。Prepare 在逐条 Apply 之前看到整个数据集
type CleaningRule interface {
	Name() string
	Prepare(records []*Record)
	Apply(*Record) (*Record, error)
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, medium, high
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Row       int       `json:"row"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules      []CleaningRule
	issues     []QualityIssue
	issuesLock sync.RWMutex

	stats     CleaningStats
	statsLock sync.RWMutex

	logger *zap.Logger
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// NewDataCleaner 创建带默认规则的数据清洗器
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		rules:  make([]CleaningRule, 0),
		issues: make([]QualityIssue, 0),
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
		logger: logger,
	}

	cleaner.AddRule(NewRangeValidationRule())
	cleaner.AddRule(NewDuplicateDetectionRule())
	cleaner.AddRule(NewZeroImputationRule())

	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean 清洗数据，返回通过的样本和发现的问题
func (dc *DataCleaner) Clean(records []*Record) ([]*Record, []QualityIssue) {
	var cleaned []*Record
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for _, rule := range dc.rules {
		rule.Prepare(records)
	}

	for _, original := range records {
		dc.stats.TotalProcessed++

		record := original.clone()
		var recordIssues []QualityIssue

		for _, rule := range dc.rules {
			cleanedRecord, err := rule.Apply(record)
			if err != nil {
				recordIssues = append(recordIssues, QualityIssue{
					Type:      rule.Name(),
					Severity:  "high",
					Message:   err.Error(),
					Timestamp: time.Now(),
					Row:       record.Row,
				})
				dc.recordIssue(rule.Name())
				break
			}
			if cleanedRecord != nil {
				record = cleanedRecord
			}
		}

		if len(recordIssues) > 0 {
			dc.stats.Rejected++
			issues = append(issues, recordIssues...)
			dc.issuesLock.Lock()
			dc.issues = append(dc.issues, recordIssues...)
			dc.issuesLock.Unlock()
			continue
		}

		if !isEqual(original, record) {
			dc.stats.Corrected++
		}
		dc.stats.Passed++
		cleaned = append(cleaned, record)
	}

	dc.stats.LastClean = time.Now()
	dc.logger.Info("training data cleaned",
		zap.Int("input", len(records)),
		zap.Int("passed", len(cleaned)),
		zap.Int("issues", len(issues)))

	return cleaned, issues
}

func isEqual(a, b *Record) bool {
	if a.Label != b.Label || len(a.Features) != len(b.Features) {
		return false
	}
	for i := range a.Features {
		if a.Features[i] != b.Features[i] {
			return false
		}
	}
	return true
}

func (dc *DataCleaner) recordIssue(issueType string) {
	dc.stats.Issues[issueType]++
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues 获取最近的问题
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.issuesLock.RLock()
	defer dc.issuesLock.RUnlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}

	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

// ============ 清洗规则实现 ============

// Bound 单个特征的取值范围
type Bound struct {
	Min float64
	Max float64
}

// RangeValidationRule 特征范围验证，范围与录入表单一致
type RangeValidationRule struct {
	Bounds []Bound
}

func NewRangeValidationRule() *RangeValidationRule {
	return &RangeValidationRule{
		Bounds: []Bound{
			{0, 20},   // Pregnancies
			{0, 500},  // Glucose
			{0, 300},  // BloodPressure
			{0, 100},  // SkinThickness
			{0, 2000}, // Insulin
			{0, 80},   // BMI
			{0, 10},   // DiabetesPedigreeFunction
			{1, 120},  // Age
		},
	}
}

func (r *RangeValidationRule) Name() string {
	return "range_validation"
}

func (r *RangeValidationRule) Prepare([]*Record) {}

func (r *RangeValidationRule) Apply(record *Record) (*Record, error) {
	if len(record.Features) != len(r.Bounds) {
		return nil, fmt.Errorf("expected %d features, got %d", len(r.Bounds), len(record.Features))
	}
	if record.Label != ml.LabelNegative && record.Label != ml.LabelPositive {
		return nil, fmt.Errorf("label %d is not binary", record.Label)
	}
	names := ml.FeatureNames()
	for i, value := range record.Features {
		bound := r.Bounds[i]
		if value < bound.Min || value > bound.Max {
			return nil, fmt.Errorf("%s %.3f out of range [%.0f, %.0f]", names[i], value, bound.Min, bound.Max)
		}
	}
	return record, nil
}

// DuplicateDetectionRule 重复样本检测，保留第一次出现的样本
type DuplicateDetectionRule struct {
	seen map[string]bool
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{seen: make(map[string]bool)}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Prepare([]*Record) {
	r.seen = make(map[string]bool)
}

func (r *DuplicateDetectionRule) Apply(record *Record) (*Record, error) {
	key := recordKey(record)
	if r.seen[key] {
		return nil, errors.New("duplicate of an earlier row")
	}
	r.seen[key] = true
	return record, nil
}

func recordKey(record *Record) string {
	parts := make([]string, 0, len(record.Features)+1)
	for _, v := range record.Features {
		parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
	}
	parts = append(parts, strconv.Itoa(record.Label))
	return strings.Join(parts, ",")
}

// ZeroImputationRule 将不可能为 0 的生理指标中的 0 视为缺失，用非零中位数填充
type ZeroImputationRule struct {
	Columns []int
	medians map[int]float64
}

func NewZeroImputationRule() *ZeroImputationRule {
	// Glucose, BloodPressure, SkinThickness, Insulin, BMI
	return &ZeroImputationRule{Columns: []int{1, 2, 3, 4, 5}}
}

func (r *ZeroImputationRule) Name() string {
	return "zero_imputation"
}

func (r *ZeroImputationRule) Prepare(records []*Record) {
	r.medians = make(map[int]float64, len(r.Columns))
	for _, col := range r.Columns {
		values := make([]float64, 0, len(records))
		for _, record := range records {
			if col < len(record.Features) && record.Features[col] != 0 {
				values = append(values, record.Features[col])
			}
		}
		if len(values) > 0 {
			r.medians[col] = ml.Median(values)
		}
	}
}

func (r *ZeroImputationRule) Apply(record *Record) (*Record, error) {
	for _, col := range r.Columns {
		if col >= len(record.Features) || record.Features[col] != 0 {
			continue
		}
		if median, ok := r.medians[col]; ok {
			record.Features[col] = median
		}
	}
	return record, nil
}

// Records 把特征矩阵和标签组装为样本
func Records(features [][]float64, labels []int) ([]*Record, error) {
	if len(features) != len(labels) {
		return nil, fmt.Errorf("features and labels size mismatch: %d vs %d", len(features), len(labels))
	}
	records := make([]*Record, len(features))
	for i := range features {
		records[i] = &Record{Row: i + 1, Features: features[i], Label: labels[i]}
	}
	return records, nil
}

// Split 把样本拆回特征矩阵和标签
func Split(records []*Record) ([][]float64, []int) {
	features := make([][]float64, len(records))
	labels := make([]int, len(records))
	for i, record := range records {
		features[i] = record.Features
		labels[i] = record.Label
	}
	return features, labels
}
