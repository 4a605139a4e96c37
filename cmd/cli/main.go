package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/meethub/backend/internal/auth"
	"github.com/meethub/backend/internal/database"
	"github.com/meethub/backend/internal/directory"
	"github.com/meethub/backend/internal/models"
	"github.com/meethub/backend/internal/notify"
	"github.com/meethub/backend/internal/store"
	"github.com/spf13/cobra"
)

var output string = "text" // "text" or "json"

var rootCmd = &cobra.Command{
	Use:   "meethub",
	Short: "MeetHub CLI - operate on the messaging backend",
	Long: `MeetHub CLI provides operational access to the messaging backend:
issue tokens for testing, inspect notification counters and dump conversations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		if err := database.Initialize(); err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = database.Close()
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Issue a signed token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jwtSecret := []byte(os.Getenv("JWT_SECRET"))
		if len(jwtSecret) == 0 {
			return fmt.Errorf("JWT_SECRET environment variable is required")
		}

		user, err := findUser(args[0])
		if err != nil {
			return err
		}

		svc := auth.NewService(database.DB, jwtSecret)
		token, expiresAt, err := svc.IssueToken(user)
		if err != nil {
			return err
		}

		return emit(map[string]interface{}{
			"user_id":    user.ID,
			"username":   user.Username,
			"token":      token,
			"expires_at": expiresAt,
		})
	},
}

var counterCmd = &cobra.Command{
	Use:   "counter <username>",
	Short: "Show a user's unread notification counter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := findUser(args[0])
		if err != nil {
			return err
		}

		counters := notify.NewGormAggregator(database.DB)
		reset, _ := cmd.Flags().GetBool("reset")
		if reset {
			if err := counters.ResetForUser(context.Background(), user.ID); err != nil {
				return err
			}
		}

		counter, err := counters.Get(context.Background(), user.ID)
		if err != nil {
			return err
		}
		if counter == nil {
			fmt.Printf("%s has no notification counter\n", user.Username)
			return nil
		}

		return emit(map[string]interface{}{
			"receiver_id":   counter.ReceiverID,
			"unread_count":  counter.UnreadCount,
			"is_read":       counter.IsRead,
			"last_updated":  counter.LastUpdatedAt,
		})
	},
}

var conversationCmd = &cobra.Command{
	Use:   "conversation <username-a> <username-b>",
	Short: "Dump the conversation between two users in creation order",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userA, err := findUser(args[0])
		if err != nil {
			return err
		}
		userB, err := findUser(args[1])
		if err != nil {
			return err
		}

		messageStore := store.NewMessageStore(database.DB)
		since, _ := cmd.Flags().GetInt64("since")
		limit, _ := cmd.Flags().GetInt("limit")

		messages, err := messageStore.ListConversation(context.Background(), userA.ID, userB.ID, since, limit)
		if err != nil {
			return err
		}

		if output == "json" {
			return emit(messages)
		}
		for _, m := range messages {
			direction := fmt.Sprintf("%s -> %s", args[0], args[1])
			if m.SenderID == userB.ID {
				direction = fmt.Sprintf("%s -> %s", args[1], args[0])
			}
			fmt.Printf("[%d] %s (%s): %s\n", m.Seq, direction, m.DeliveryState, m.Content)
		}
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List known users and their presence flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		var users []models.User
		if err := database.DB.Order("username").Find(&users).Error; err != nil {
			return err
		}

		if output == "json" {
			dir := directory.New(database.DB)
			ids := make([]string, len(users))
			for i := range users {
				ids[i] = users[i].ID
			}
			profiles, err := dir.GetProfiles(context.Background(), ids)
			if err != nil {
				return err
			}
			return emit(profiles)
		}
		for _, u := range users {
			flag := " "
			if u.IsOnline {
				flag = "*"
			}
			fmt.Printf("%s %-20s %s\n", flag, u.Username, u.ID)
		}
		return nil
	},
}

func findUser(username string) (*models.User, error) {
	var user models.User
	if err := database.DB.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, fmt.Errorf("user %q not found", username)
	}
	return &user, nil
}

func emit(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&output, "output", output, "Output format: text or json")
	counterCmd.Flags().Bool("reset", false, "Reset the counter after showing it")
	conversationCmd.Flags().Int64("since", 0, "Exclusive sequence cursor to resume from")
	conversationCmd.Flags().Int("limit", 0, "Maximum messages to return (default server page size)")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(counterCmd)
	rootCmd.AddCommand(conversationCmd)
	rootCmd.AddCommand(usersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
