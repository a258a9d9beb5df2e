// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScribe/pkg/backend"
	"github.com/AleutianAI/AleutianScribe/pkg/coauthor"
	"github.com/AleutianAI/AleutianScribe/pkg/stream"
)

var (
	documentID    string
	sectionID     string
	participantID string
	intent        string
	draftPath     string
	autoApprove   bool

	coauthorCmd = &cobra.Command{
		Use:   "coauthor [prompt]",
		Short: "Start a co-authoring session and request an edit proposal",
		Long: `Opens (or reuses) a co-authoring session for the given document
section, streams the assistant's analysis, and prints the resulting
edit proposal as a draft patch. Press Ctrl-C while streaming to cancel
without losing already-received work.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCoauthor,
	}

	reviewCmd = &cobra.Command{
		Use:   "review",
		Short: "Start a document QA review session",
		Long: `Queues a QA review for the given document section and follows its
progress. Reviews behind the concurrency limit report as queued; a
replaced pending session is surfaced as a replacement notice.`,
		RunE: runReview,
	}
)

func init() {
	for _, cmd := range []*cobra.Command{coauthorCmd, reviewCmd} {
		cmd.Flags().StringVar(&documentID, "document", "", "document id (required)")
		cmd.Flags().StringVar(&sectionID, "section", "", "section id (required)")
		cmd.Flags().StringVar(&participantID, "participant", "", "author or reviewer id (required)")
		_ = cmd.MarkFlagRequired("document")
		_ = cmd.MarkFlagRequired("section")
		_ = cmd.MarkFlagRequired("participant")
	}
	coauthorCmd.Flags().StringVar(&intent, "intent", "improve", "co-authoring intent")
	coauthorCmd.Flags().StringVar(&draftPath, "draft", "", "path to the current draft text")
	coauthorCmd.Flags().BoolVar(&autoApprove, "approve", false, "approve the proposal without prompting")

	rootCmd.AddCommand(coauthorCmd)
	rootCmd.AddCommand(reviewCmd)
}

func newCoordinator(kind coauthor.SessionKind) (*coauthor.Coordinator, error) {
	client := backend.NewClient(backend.ClientConfig{BaseURL: cfg.Backend.BaseURL})
	manager := stream.NewManager(nil)

	return coauthor.NewCoordinator(coauthor.Config{
		DocumentID:    documentID,
		ParticipantID: participantID,
		Kind:          kind,
		Backend:       client,
		Subscriber:    manager,
		StreamBase:    cfg.Backend.StreamBase,
		Announce: func(a coauthor.Announcement) {
			fmt.Fprintln(os.Stderr, styles.Announce.Render(a.Message))
		},
	})
}

func runCoauthor(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")

	var draft string
	if draftPath != "" {
		data, err := os.ReadFile(draftPath)
		if err != nil {
			return fmt.Errorf("read draft: %w", err)
		}
		draft = string(data)
	}

	coordinator, err := newCoordinator(coauthor.KindCoAuthor)
	if err != nil {
		return err
	}
	defer coordinator.Teardown(context.Background(), "shutdown")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		coordinator.CancelStreaming(context.Background())
	}()

	session, err := coordinator.EnsureSession(ctx, sectionID, intent)
	if err != nil {
		return err
	}
	fmt.Println(styles.Title.Render("Session " + session.SessionID))

	if err := coordinator.RequestProposal(ctx, intent, prompt, nil, draft); err != nil {
		return err
	}

	if err := follow(ctx, coordinator); err != nil {
		return err
	}

	pending := coordinator.PendingProposal()
	if pending == nil {
		return nil
	}

	fmt.Println(styles.Patch.Render(pending.DraftPatch))
	fmt.Println(styles.Muted.Render(fmt.Sprintf("confidence %.2f  hash %s", pending.Confidence, pending.DiffHash)))

	if autoApprove {
		if err := coordinator.ApproveProposal(ctx, pending.ProposalID, "approved via scribe CLI"); err != nil {
			return err
		}
		fmt.Println(styles.Status.Render("Proposal approved and queued."))
	}
	return nil
}

func runReview(cmd *cobra.Command, args []string) error {
	coordinator, err := newCoordinator(coauthor.KindReview)
	if err != nil {
		return err
	}
	defer coordinator.Teardown(context.Background(), "shutdown")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		coordinator.CancelStreaming(context.Background())
	}()

	session, err := coordinator.EnsureSession(ctx, sectionID, "review")
	if err != nil {
		return err
	}
	fmt.Println(styles.Title.Render("Review session " + session.SessionID))

	if err := coordinator.Review(ctx); err != nil {
		return err
	}
	if notice := coordinator.Replacement(); notice != nil {
		fmt.Println(styles.Warning.Render("Replaced pending session " + notice.PreviousSessionID))
	}

	return follow(ctx, coordinator)
}

// follow polls progress until the attempt settles, echoing transitions.
func follow(ctx context.Context, coordinator *coauthor.Coordinator) error {
	var last coauthor.Status
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		progress := coordinator.Progress()
		if progress.Status != last {
			last = progress.Status
			slog.Debug("status changed", "status", string(progress.Status))
			fmt.Fprintln(os.Stderr, styles.Status.Render("• "+string(progress.Status)))
		}

		switch progress.Status {
		case coauthor.StatusAwaitingApproval, coauthor.StatusIdle:
			if transcript := coordinator.Transcript(); transcript != "" {
				fmt.Println(transcript)
			}
			return nil
		case coauthor.StatusCanceled:
			fmt.Fprintln(os.Stderr, styles.Warning.Render("Canceled."))
			return nil
		case coauthor.StatusError:
			return fmt.Errorf("session failed: %s", progress.FallbackReason)
		}
	}
}
