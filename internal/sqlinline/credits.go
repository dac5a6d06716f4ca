package sqlinline

// QSelectOrProvisionCredits returns the owner's balance, inserting the initial
// balance on first sight.
const QSelectOrProvisionCredits = `--sql 1c4594a6-bd93-46f6-bf71-41b1bcf12a69
insert into user_credits (owner_id, credits)
values ($1::text, $2::int)
on conflict (owner_id) do update set owner_id = excluded.owner_id
returning credits;
`

// QDecrementCredits charges one credit for a job. The charge row is only
// inserted while the balance is positive and the decrement only runs when the
// row was inserted, so a job already in credit_charges is never charged again.
// Columns: already charged, new balance (null when nothing was charged),
// balance before the statement.
const QDecrementCredits = `--sql 13ef771f-f55d-4ca6-8391-9504a9b29c69
with prior as (
    select 1
    from credit_charges
    where job_id = $2::text
),
marked as (
    insert into credit_charges (job_id, owner_id)
    select $2::text, owner_id
    from user_credits
    where owner_id = $1::text
      and credits > 0
    on conflict (job_id) do nothing
    returning job_id
),
charged as (
    update user_credits
    set credits = credits - 1,
        updated_at = now()
    where owner_id = $1::text
      and exists (select 1 from marked)
    returning credits
)
select exists (select 1 from prior),
       (select credits from charged),
       (select credits from user_credits where owner_id = $1::text);
`

// QSetCredits overwrites a balance. Used by operators, never by the
// orchestrator.
const QSetCredits = `--sql 9f1d6c2e-4b7a-4e3f-a8d5-2c61b0e7f934
insert into user_credits (owner_id, credits)
values ($1::text, $2::int)
on conflict (owner_id) do update set credits = excluded.credits, updated_at = now();
`
