package mysql

import (
	"context"
	"database/sql/driver"
	"fmt"
	"testing"
)

func TestMemoryPublicationRepositoryPersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewMemoryPublicationRepository(dir)
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		record := PublicationRecord{
			WorkflowID:  "wf-1",
			AgentID:     fmt.Sprintf("agent-%d", i),
			PublishedAt: int64(i),
		}
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	latest, err := repo.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(latest) != 2 || latest[0].AgentID != "agent-3" || latest[0].ID != 3 {
		t.Fatalf("unexpected latest records: %+v", latest)
	}

	reopened, err := NewMemoryPublicationRepository(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all, err := reopened.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("list after reopen: %v", err)
	}
	if len(all) != 3 || all[2].AgentID != "agent-1" {
		t.Fatalf("records not restored in order: %+v", all)
	}
	if err := reopened.Save(ctx, PublicationRecord{AgentID: "agent-4"}); err != nil {
		t.Fatalf("save after reopen: %v", err)
	}
	if got, _ := reopened.ListLatest(ctx, 1); got[0].ID != 4 {
		t.Fatalf("id sequence not restored: %+v", got)
	}
}

func TestSQLPublicationRepositorySave(t *testing.T) {
	t.Parallel()

	op := execOp(`INSERT INTO agent_publications
    (workflow_id, agent_id, agent_did, webhook_url, job_id, published_at)
    VALUES (?, ?, ?, ?, ?, ?)`, mockResult{lastInsertID: 1, rowsAffected: 1})
	op.args = []driver.Value{"wf-1", "agent-1", "did:zynd:1", "http://n8n/webhook/h", "job-1", int64(10)}

	db, drv := newMockDB(t, []mockOperation{op})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := NewSQLPublicationRepository(db)
	err := repo.Save(context.Background(), PublicationRecord{
		WorkflowID:  "wf-1",
		AgentID:     "agent-1",
		AgentDID:    "did:zynd:1",
		WebhookURL:  "http://n8n/webhook/h",
		JobID:       "job-1",
		PublishedAt: 10,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestSQLPublicationRepositoryListLatest(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "workflow_id", "agent_id", "agent_did", "webhook_url", "job_id", "published_at"},
		values: [][]driver.Value{
			{int64(2), "wf-1", "agent-2", "did:2", "", "", int64(20)},
			{int64(1), "wf-1", "agent-1", "did:1", "", "", int64(10)},
		},
	}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT id, workflow_id, agent_id, agent_did, webhook_url, job_id, published_at
    FROM agent_publications ORDER BY published_at DESC, id DESC LIMIT ?`, rows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	list, err := NewSQLPublicationRepository(db).ListLatest(context.Background(), 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].AgentID != "agent-2" || list[1].PublishedAt != 10 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestMigrateAppliesPendingFiles(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) < 2 || files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("unexpected migration files: %+v", files)
	}

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	for _, file := range files[1:] {
		ops = append(ops, beginOp())
		for _, stmt := range file.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops,
			execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}

	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}
