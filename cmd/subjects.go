package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/presenceio/presenced/internal/config"
	"github.com/presenceio/presenced/internal/store/postgres"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "Manage enrolled subjects",
}

var subjectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled subjects",
	RunE:  runSubjectsList,
}

var subjectsShowCmd = &cobra.Command{
	Use:   "show <subject-id or name>",
	Short: "Show one subject's template details",
	Long: `Show one enrolled subject. The argument is matched against the subject
id first, then against the display name with diacritics and case ignored,
so "jiri-novak" finds "Jiří Novák".`,
	Args: cobra.ExactArgs(1),
	RunE: runSubjectsShow,
}

var subjectsDeleteCmd = &cobra.Command{
	Use:   "delete <subject-id>",
	Short: "Remove a subject's template",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubjectsDelete,
}

func init() {
	rootCmd.AddCommand(subjectsCmd)
	subjectsCmd.AddCommand(subjectsListCmd)
	subjectsCmd.AddCommand(subjectsShowCmd)
	subjectsCmd.AddCommand(subjectsDeleteCmd)
}

func openTemplateRepository() (*postgres.TemplateRepository, *postgres.Pool, error) {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Migrate(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return postgres.NewTemplateRepository(pool), pool, nil
}

func runSubjectsList(cmd *cobra.Command, args []string) error {
	repo, pool, err := openTemplateRepository()
	if err != nil {
		return err
	}
	defer pool.Close()

	templates, err := repo.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list subjects: %w", err)
	}
	if len(templates) == 0 {
		fmt.Println("No subjects enrolled")
		return nil
	}

	fmt.Printf("%-16s %-24s %-8s %s\n", "SUBJECT", "NAME", "QUALITY", "ENROLLED")
	for _, tpl := range templates {
		fmt.Printf("%-16s %-24s %-8.2f %s\n",
			tpl.SubjectID, tpl.SubjectName, tpl.QualityScore,
			tpl.EnrolledAt.Format("2006-01-02 15:04"))
	}
	fmt.Printf("\n%d subjects\n", len(templates))
	return nil
}

func runSubjectsShow(cmd *cobra.Command, args []string) error {
	repo, pool, err := openTemplateRepository()
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx := context.Background()
	tpl, err := repo.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to look up subject: %w", err)
	}
	if tpl == nil {
		tpl, err = repo.GetByName(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to look up subject by name: %w", err)
		}
	}
	if tpl == nil {
		return fmt.Errorf("no subject matches %q", args[0])
	}

	fmt.Printf("Subject:  %s\n", tpl.SubjectID)
	fmt.Printf("Name:     %s\n", tpl.SubjectName)
	fmt.Printf("Quality:  %.2f\n", tpl.QualityScore)
	fmt.Printf("Enrolled: %s\n", tpl.EnrolledAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Template: %d dimensions\n", len(tpl.Embedding))

	attendance := postgres.NewAttendanceRepository(pool)
	if count, err := attendance.CountForSubject(ctx, tpl.SubjectID); err == nil {
		fmt.Printf("Attendance entries: %d\n", count)
	}
	return nil
}

func runSubjectsDelete(cmd *cobra.Command, args []string) error {
	repo, pool, err := openTemplateRepository()
	if err != nil {
		return err
	}
	defer pool.Close()

	subjectID := args[0]
	ctx := context.Background()

	tpl, err := repo.Get(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("failed to look up subject: %w", err)
	}
	if tpl == nil {
		return fmt.Errorf("subject %s is not enrolled", subjectID)
	}

	if err := repo.Delete(ctx, subjectID); err != nil {
		return fmt.Errorf("failed to delete subject: %w", err)
	}
	fmt.Printf("Deleted subject %s\n", subjectID)
	return nil
}
