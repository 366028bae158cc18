package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/project/domain"
	"gorm.io/gorm"
)

// openReference excludes rows already attached to an invoice that has not been cancelled.
const openReference = `NOT EXISTS (
	SELECT 1 FROM invoice_items ii
	JOIN invoices i ON i.id = ii.invoice_id
	WHERE ii.source_id = %s.id AND ii.reference_type = ? AND i.status <> 'CANCELLED'
)`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertClient(ctx context.Context, db *gorm.DB, client *domain.Client) error {
	return db.WithContext(ctx).Create(client).Error
}

func (r *repo) InsertProject(ctx context.Context, db *gorm.DB, project *domain.Project) error {
	return db.WithContext(ctx).Create(project).Error
}

func (r *repo) InsertTimeEntry(ctx context.Context, db *gorm.DB, entry *domain.TimeEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) InsertExpense(ctx context.Context, db *gorm.DB, expense *domain.Expense) error {
	return db.WithContext(ctx).Create(expense).Error
}

func (r *repo) InsertMilestone(ctx context.Context, db *gorm.DB, milestone *domain.Milestone) error {
	return db.WithContext(ctx).Create(milestone).Error
}

func (r *repo) FindProject(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) (*domain.Project, error) {
	var project domain.Project
	err := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, projectID).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *repo) FindClient(ctx context.Context, db *gorm.DB, orgID, clientID snowflake.ID) (*domain.Client, error) {
	var client domain.Client
	err := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, clientID).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *repo) UnbilledTimeEntries(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]domain.TimeEntry, error) {
	var entries []domain.TimeEntry
	err := db.WithContext(ctx).
		Where("org_id = ? AND project_id = ? AND approved = ? AND billable = ? AND billed_at IS NULL", orgID, projectID, true, true).
		Where(sprintfReference("time_entries"), "time_entry").
		Order("work_date ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *repo) UnbilledExpenses(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]domain.Expense, error) {
	var expenses []domain.Expense
	err := db.WithContext(ctx).
		Where("org_id = ? AND project_id = ? AND approved = ? AND billable = ? AND billed_at IS NULL", orgID, projectID, true, true).
		Where(sprintfReference("expenses"), "expense").
		Order("incurred_at ASC, id ASC").
		Find(&expenses).Error
	return expenses, err
}

func (r *repo) UnbilledMilestones(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]domain.Milestone, error) {
	var milestones []domain.Milestone
	err := db.WithContext(ctx).
		Where("org_id = ? AND project_id = ? AND completed = ? AND billed_at IS NULL", orgID, projectID, true).
		Where(sprintfReference("milestones"), "milestone").
		Order("completed_at ASC, id ASC").
		Find(&milestones).Error
	return milestones, err
}

func (r *repo) ApprovedTimeEntries(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]domain.TimeEntry, error) {
	var entries []domain.TimeEntry
	err := db.WithContext(ctx).
		Where("org_id = ? AND project_id = ? AND approved = ?", orgID, projectID, true).
		Find(&entries).Error
	return entries, err
}

func (r *repo) ApprovedExpenses(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]domain.Expense, error) {
	var expenses []domain.Expense
	err := db.WithContext(ctx).
		Where("org_id = ? AND project_id = ? AND approved = ?", orgID, projectID, true).
		Find(&expenses).Error
	return expenses, err
}

func (r *repo) ApproveTimeEntry(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.TimeEntry{}).
		Where("org_id = ? AND id = ?", orgID, id).
		Update("approved", true)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) ApproveExpense(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Expense{}).
		Where("org_id = ? AND id = ?", orgID, id).
		Update("approved", true)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) CompleteMilestone(ctx context.Context, db *gorm.DB, orgID, milestoneID snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Milestone{}).
		Where("org_id = ? AND id = ? AND completed = ?", orgID, milestoneID, false).
		Updates(map[string]any{"completed": true, "completed_at": at})
	return res.RowsAffected > 0, res.Error
}

// MarkBilled stamps every referenced record with the paying invoice. Rows already billed are left alone.
func (r *repo) MarkBilled(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, refs domain.SourceRefs, at time.Time) error {
	fields := map[string]any{"billed_at": at, "invoice_id": invoiceID}
	targets := []struct {
		model any
		ids   []snowflake.ID
	}{
		{&domain.TimeEntry{}, refs.TimeEntryIDs},
		{&domain.Expense{}, refs.ExpenseIDs},
		{&domain.Milestone{}, refs.MilestoneIDs},
	}
	for _, target := range targets {
		if len(target.ids) == 0 {
			continue
		}
		err := db.WithContext(ctx).Model(target.model).
			Where("org_id = ? AND id IN ? AND billed_at IS NULL", orgID, target.ids).
			Updates(fields).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func sprintfReference(table string) string {
	return fmt.Sprintf(openReference, table)
}
